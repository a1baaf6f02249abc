package server_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/testhelpers"
)

const waitFor = 2 * time.Second

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

// startServer runs a hub and an httptest server around a fresh state.
func startServer(t *testing.T, cfg *config.Config) (*server.State, *httptest.Server) {
	t.Helper()
	if cfg == nil {
		cfg = testhelpers.NewConfig(t)
	}

	state, err := server.NewState(cfg, testLogger())
	require.NoError(t, err)
	go state.Hub.Run()

	ts := httptest.NewServer(server.SetupRoutes(state))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = state.Hub.Shutdown(ctx)
		ts.Close()
	})
	return state, ts
}

// join dials into roomID and waits until the registry lists the connection.
func join(t *testing.T, state *server.State, ts *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()
	before := state.Relay.Registry.Count(roomID)
	conn := testhelpers.Dial(t, ts.URL, testhelpers.RoomAuth(roomID))
	testhelpers.ExpectEvent(t, conn, relay.EventHello, waitFor)
	require.Eventually(t, func() bool {
		return state.Relay.Registry.Count(roomID) == before+1
	}, waitFor, 5*time.Millisecond)
	return conn
}
