// Package relay implements room lifecycle, broadcast with per-recipient
// acknowledgement, and the membership query for the room relay.
//
// The package never touches a socket directly. Transports plug in through
// the Connection interface and feed inbound events to the Lifecycle.
package relay

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Tyrowin/roomrelay/internal/payload"
)

//go:generate mockgen -source=connection.go -destination=mocks/mock_connection.go -package=mocks

// Event names exchanged with clients.
const (
	EventHello         = "hello"
	EventSystemJoin    = "system_join"
	EventMessageRecv   = "message_recv"
	EventMesgBroadcast = "mesg_broadcast"
	EventDisconnect    = "disconnect"
	EventUpdateCount   = "update_count"
)

// RoomIDField is the only payload field the relay reads.
const RoomIDField = "room_id"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrAckTimeout       = errors.New("acknowledgement timed out")
	ErrRecipientGone    = errors.New("recipient no longer connected")
)

// Reply is what a recipient sent back for an acknowledged event, or the
// reason no reply will ever arrive.
type Reply struct {
	Data payload.Value
	Err  error
}

// Connection is one live client channel as seen by the relay.
type Connection interface {
	// ID is unique for the lifetime of the connection.
	ID() string
	// Emit queues an event without waiting for delivery.
	Emit(event string, data json.RawMessage) error
	// EmitWithAck queues an event that expects a reply. The returned channel
	// yields exactly one Reply: the client's answer, ErrConnectionClosed when
	// the connection goes away first, or ctx.Err() once ctx is done.
	EmitWithAck(ctx context.Context, event string, data json.RawMessage) (<-chan Reply, error)
	// Close tears down the transport.
	Close() error
}
