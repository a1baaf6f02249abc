package relay

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/payload"
	"github.com/Tyrowin/roomrelay/internal/room"
)

// Greeting texts sent by the lifecycle.
const (
	HelloText      = "New user connected"
	SystemJoinText = "New user joined"
)

// State is the lifecycle position of a connection.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateJoinedRoom
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoinedRoom:
		return "joined_room"
	default:
		return "disconnected"
	}
}

type session struct {
	conn  Connection
	state State
	rooms map[string]struct{}
}

// Lifecycle drives connect, join, inbound events and disconnect for every
// connection. Its per-connection room set is bookkeeping only; the Registry
// stays authoritative.
type Lifecycle struct {
	log      *slog.Logger
	registry *room.Registry
	engine   *Engine
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewLifecycle wires a lifecycle manager to the shared registry and engine.
func NewLifecycle(log *slog.Logger, registry *room.Registry, engine *Engine, m *metrics.Metrics) *Lifecycle {
	return &Lifecycle{
		log:      log,
		registry: registry,
		engine:   engine,
		metrics:  m,
		sessions: make(map[string]*session),
	}
}

// Connect greets a new connection and joins it to the room named by the
// room_id field of data, if there is one. A payload without a usable room_id
// leaves the connection connected but in no room.
func (l *Lifecycle) Connect(conn Connection, data payload.Value) {
	id := conn.ID()

	l.mu.Lock()
	if _, exists := l.sessions[id]; exists {
		l.mu.Unlock()
		l.log.Warn("Duplicate connect ignored", "conn_id", id)
		return
	}
	s := &session{conn: conn, state: StateConnected, rooms: make(map[string]struct{})}
	l.sessions[id] = s
	l.mu.Unlock()

	l.engine.Attach(conn)
	l.metrics.Connections.Inc()

	if err := conn.Emit(EventHello, quote(HelloText)); err != nil {
		l.log.Warn("Failed to greet connection", "conn_id", id, "err", err)
	}

	roomID, ok := data.StringField(RoomIDField)
	if !ok {
		if !data.IsDocument() {
			l.log.Warn("Expected connect data to be a document", "conn_id", id, "data", data.String())
		} else {
			l.log.Warn("Connect data has no room_id", "conn_id", id)
		}
		return
	}

	l.join(s, id, roomID)
}

func (l *Lifecycle) join(s *session, id, roomID string) {
	l.mu.Lock()
	if s.state == StateDisconnected {
		l.mu.Unlock()
		return
	}
	l.registry.Join(id, roomID)
	s.rooms[roomID] = struct{}{}
	s.state = StateJoinedRoom
	l.mu.Unlock()

	l.metrics.Joins.Inc()
	l.log.Info("Connection joined room", "conn_id", id, "room_id", roomID)

	if _, err := l.engine.Emit(id, roomID, EventSystemJoin, SystemJoinText); err != nil {
		l.log.Warn("Failed to emit join message", "room_id", roomID, "err", err)
	}
}

// HandleEvent dispatches one inbound client event.
func (l *Lifecycle) HandleEvent(connID, event string, data payload.Value) {
	switch event {
	case EventMessageRecv:
		l.relayMessage(connID, data)
	case EventDisconnect:
		l.Disconnect(connID, data)
	default:
		l.log.Warn("Unknown event ignored", "conn_id", connID, "event", event)
	}
}

func (l *Lifecycle) relayMessage(connID string, data payload.Value) {
	rooms := l.Rooms(connID)
	if len(rooms) == 0 {
		l.log.Debug("Message from connection in no room dropped", "conn_id", connID)
		return
	}

	for _, roomID := range rooms {
		results, err := l.engine.Broadcast(connID, roomID, EventMesgBroadcast, data)
		if err != nil {
			l.log.Error("Failed to emit message with ack", "conn_id", connID, "room_id", roomID, "err", err)
			continue
		}
		l.engine.Observe(roomID, EventMesgBroadcast, results)
	}
}

// Disconnect handles an explicit room-scoped disconnect request. When data
// names a room the connection belongs to, the connection leaves it and is
// torn down. Anything else is logged and the connection stays up.
func (l *Lifecycle) Disconnect(connID string, data payload.Value) {
	roomID, ok := data.StringField(RoomIDField)
	if !ok {
		l.log.Warn("Expected disconnect data to be a document with room_id", "conn_id", connID, "data", data.String())
		return
	}

	if !l.registry.Leave(connID, roomID) {
		l.log.Warn("Disconnect requested for room the connection is not in", "conn_id", connID, "room_id", roomID)
		return
	}

	conn := l.Close(connID)
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		l.log.Error("Failed to disconnect connection from room", "conn_id", connID, "room_id", roomID, "err", err)
		return
	}
	l.log.Info("Connection disconnected from room", "conn_id", connID, "room_id", roomID)
}

// Close removes connID from every room and stops routing events to it. It is
// called when the transport goes away and is safe to call more than once.
// It returns the closed connection, or nil if it was already gone.
func (l *Lifecycle) Close(connID string) Connection {
	l.mu.Lock()
	s, ok := l.sessions[connID]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	delete(l.sessions, connID)
	s.state = StateDisconnected
	rooms := lo.Keys(s.rooms)
	for _, roomID := range rooms {
		l.registry.Leave(connID, roomID)
	}
	l.mu.Unlock()

	l.engine.Detach(connID)
	l.metrics.Connections.Dec()
	l.log.Info("Connection closed", "conn_id", connID, "rooms", len(rooms))
	return s.conn
}

// Rooms returns the rooms connID believes it joined, sorted.
func (l *Lifecycle) Rooms(connID string) []string {
	l.mu.RLock()
	s, ok := l.sessions[connID]
	if !ok {
		l.mu.RUnlock()
		return nil
	}
	rooms := lo.Keys(s.rooms)
	l.mu.RUnlock()

	sort.Strings(rooms)
	return rooms
}

// State reports where connID is in its lifecycle.
func (l *Lifecycle) State(connID string) State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.sessions[connID]; ok {
		return s.state
	}
	return StateDisconnected
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
