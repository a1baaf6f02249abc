package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the relay and serves until a signal triggers shutdown or the
// HTTP server fails.
func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	state, err := server.NewState(cfg, log)
	if err != nil {
		return err
	}
	go state.Hub.Run()

	srv := server.CreateServer(cfg.Addr(), server.SetupRoutes(state))
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(log, srv)
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, log, srv)
			},
			"hub": func(ctx context.Context) error {
				return state.Hub.Shutdown(ctx)
			},
		},
	)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		// A clean return means shutdown is already underway.
		return exitStatus(log, <-wait)
	case code := <-wait:
		return exitStatus(log, code)
	}
}

func exitStatus(log *slog.Logger, code int) error {
	if code != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", code)
	}
	log.Info("Shutdown complete")
	return nil
}
