package server

import (
	"encoding/json"
	"strings"
)

// ackEvent is the event name clients use to answer an acknowledged frame.
const ackEvent = "ack"

// Frame is the envelope of every WebSocket text message in both directions.
// Ack is set on server frames that expect a reply and on the client's reply.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *uint64         `json:"ack,omitempty"`
}

func encodeFrame(event string, data json.RawMessage, ack *uint64) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data, Ack: ack})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
