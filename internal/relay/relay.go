package relay

import (
	"log/slog"
	"time"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/room"
)

// Relay bundles the components that share one room registry. It is built
// once at startup and handed to every transport and HTTP handler.
type Relay struct {
	Registry   *room.Registry
	Engine     *Engine
	Lifecycle  *Lifecycle
	Membership *Membership
}

// New assembles a relay around a fresh registry.
func New(log *slog.Logger, m *metrics.Metrics, ackTimeout time.Duration) *Relay {
	registry := room.NewRegistry()
	engine := NewEngine(log, registry, m, ackTimeout)
	return &Relay{
		Registry:   registry,
		Engine:     engine,
		Lifecycle:  NewLifecycle(log, registry, engine, m),
		Membership: NewMembership(log, registry, engine),
	}
}
