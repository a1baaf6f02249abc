package server

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// State is built once at startup and shared by every handler and client.
type State struct {
	Config  *config.Config
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Relay   *relay.Relay
	Hub     *Hub
	Pages   *Pages

	upgrader websocket.Upgrader
}

// NewState wires the relay, hub and page renderer. Templates are parsed
// here, so a broken template directory fails startup.
func NewState(cfg *config.Config, log *slog.Logger) (*State, error) {
	pages, err := LoadPages(log, cfg.TemplateGlob())
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	rl := relay.New(log, m, cfg.AckTimeout)
	origins := newOriginPolicy(log, cfg.Origins())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}

	return &State{
		Config:   cfg,
		Log:      log,
		Metrics:  m,
		Relay:    rl,
		Hub:      NewHub(cfg, log, rl),
		Pages:    pages,
		upgrader: upgrader,
	}, nil
}
