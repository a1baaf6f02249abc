package relay_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/payload"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

type ackMode int

const (
	ackReply ackMode = iota
	ackSilent
)

type frame struct {
	event string
	data  string
}

type fakeConn struct {
	id      string
	mode    ackMode
	reply   string
	sendErr error

	mu       sync.Mutex
	received []frame
	pending  []chan relay.Reply
	closed   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, reply: `"Message received on client"`}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Emit(event string, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return relay.ErrConnectionClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.received = append(f.received, frame{event: event, data: string(data)})
	return nil
}

func (f *fakeConn) EmitWithAck(_ context.Context, event string, data json.RawMessage) (<-chan relay.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, relay.ErrConnectionClosed
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.received = append(f.received, frame{event: event, data: string(data)})

	ch := make(chan relay.Reply, 1)
	if f.mode == ackReply {
		ch <- relay.Reply{Data: payload.Parse([]byte(f.reply))}
		return ch, nil
	}
	f.pending = append(f.pending, ch)
	return ch, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, ch := range f.pending {
		ch <- relay.Reply{Err: relay.ErrConnectionClosed}
	}
	f.pending = nil
	return nil
}

func (f *fakeConn) frames(event string) []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []frame
	for _, fr := range f.received {
		if fr.event == event {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func newTestRelay(t *testing.T, ackTimeout time.Duration) (*relay.Relay, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return relay.New(testLogger(), m, ackTimeout), m
}

func roomDoc(roomID string) payload.Value {
	return payload.From(map[string]any{relay.RoomIDField: roomID})
}

func collect(t *testing.T, results <-chan relay.AckResult, timeout time.Duration) map[string]relay.Reply {
	t.Helper()
	out := make(map[string]relay.Reply)
	deadline := time.After(timeout)
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return out
			}
			out[res.ConnID] = res.Reply
		case <-deadline:
			t.Fatalf("ack stream did not close within %s", timeout)
		}
	}
}
