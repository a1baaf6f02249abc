package relay

import (
	"log/slog"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// MinPushedCount is the smallest value pushed with update_count. Clients
// never see a room announced as empty, even though the HTTP answer reports
// the raw count.
const MinPushedCount = 1

// Membership answers room size queries and pushes the result to the room.
type Membership struct {
	log      *slog.Logger
	registry *room.Registry
	engine   *Engine
}

// NewMembership returns a membership query service.
func NewMembership(log *slog.Logger, registry *room.Registry, engine *Engine) *Membership {
	return &Membership{log: log, registry: registry, engine: engine}
}

// QueryAndNotify returns the current member count of roomID and pushes
// update_count to every member. The count and the push are not atomic: the
// room may change between the two.
func (m *Membership) QueryAndNotify(roomID string) int {
	count := m.registry.Count(roomID)
	pushed := PushedCount(count)

	delivered, err := m.engine.Emit("", roomID, EventUpdateCount, pushed)
	if err != nil {
		m.log.Warn("Failed to push member count", "room_id", roomID, "err", err)
	} else {
		m.log.Debug("Member count pushed", "room_id", roomID, "count", pushed, "recipients", delivered)
	}
	return count
}

// PushedCount is the value announced with update_count for a room of count
// members.
func PushedCount(count int) int {
	return max(count, MinPushedCount)
}
