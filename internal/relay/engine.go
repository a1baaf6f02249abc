package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/room"
)

// AckResult is the resolved acknowledgement of one recipient.
type AckResult struct {
	ConnID string
	Reply  Reply
}

// Engine fans events out to room members and collects acknowledgements.
type Engine struct {
	log        *slog.Logger
	registry   *room.Registry
	metrics    *metrics.Metrics
	ackTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]Connection

	observers sync.WaitGroup
}

// NewEngine creates an engine. A non-positive ackTimeout waits for replies
// until the recipient disconnects.
func NewEngine(log *slog.Logger, registry *room.Registry, m *metrics.Metrics, ackTimeout time.Duration) *Engine {
	return &Engine{
		log:        log,
		registry:   registry,
		metrics:    m,
		ackTimeout: ackTimeout,
		conns:      make(map[string]Connection),
	}
}

// Attach makes a connection addressable by broadcasts.
func (e *Engine) Attach(conn Connection) {
	e.mu.Lock()
	e.conns[conn.ID()] = conn
	e.mu.Unlock()
}

// Detach stops routing events to connID.
func (e *Engine) Detach(connID string) {
	e.mu.Lock()
	delete(e.conns, connID)
	e.mu.Unlock()
}

type target struct {
	id   string
	conn Connection
}

// targets resolves the current members of roomID, minus exclude, to live
// connections. Members with no attached connection keep a nil conn.
func (e *Engine) targets(roomID, exclude string) []target {
	ids := lo.Filter(e.registry.Members(roomID), func(id string, _ int) bool {
		return id != exclude
	})

	e.mu.RLock()
	defer e.mu.RUnlock()
	return lo.Map(ids, func(id string, _ int) target {
		return target{id: id, conn: e.conns[id]}
	})
}

// Emit sends event to every member of roomID except senderID without asking
// for acknowledgement. An empty senderID addresses the whole room. It returns
// the number of recipients the event was queued for; per-recipient failures
// are logged and skipped.
func (e *Engine) Emit(senderID, roomID, event string, data any) (int, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		e.log.Error("Failed to encode event", "event", event, "room_id", roomID, "err", err)
		return 0, fmt.Errorf("encode %s: %w", event, err)
	}
	e.metrics.Broadcasts.WithLabelValues(event).Inc()

	delivered := 0
	for _, t := range e.targets(roomID, senderID) {
		if t.conn == nil {
			e.deliveryFailed(event, roomID, t.id, ErrRecipientGone)
			continue
		}
		if err := t.conn.Emit(event, raw); err != nil {
			e.deliveryFailed(event, roomID, t.id, err)
			continue
		}
		e.metrics.Deliveries.WithLabelValues(metrics.DeliveryOK).Inc()
		delivered++
	}
	return delivered, nil
}

func (e *Engine) deliveryFailed(event, roomID, connID string, err error) {
	e.metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
	e.log.Warn("Failed to deliver event", "event", event, "room_id", roomID, "conn_id", connID, "err", err)
}

// Broadcast sends event to every member of roomID except senderID and asks
// each recipient for an acknowledgement. The returned channel yields one
// AckResult per targeted recipient, in resolution order, and is closed once
// all of them resolved. Broadcast itself never waits for a reply.
//
// An error means the event could not be sent to anyone.
func (e *Engine) Broadcast(senderID, roomID, event string, data any) (<-chan AckResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	e.metrics.Broadcasts.WithLabelValues(event).Inc()

	targets := e.targets(roomID, senderID)
	results := make(chan AckResult, len(targets))
	if len(targets) == 0 {
		close(results)
		return results, nil
	}

	var wg sync.WaitGroup
	wg.Add(len(targets))
	for _, t := range targets {
		go func(t target) {
			defer wg.Done()
			results <- AckResult{ConnID: t.id, Reply: e.await(t, event, raw)}
		}(t)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	return results, nil
}

func (e *Engine) await(t target, event string, raw json.RawMessage) Reply {
	if t.conn == nil {
		e.metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
		return Reply{Err: ErrRecipientGone}
	}

	ctx, cancel := e.ackContext()
	defer cancel()

	replies, err := t.conn.EmitWithAck(ctx, event, raw)
	if err != nil {
		e.metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
		return Reply{Err: err}
	}
	e.metrics.Deliveries.WithLabelValues(metrics.DeliveryOK).Inc()

	select {
	case reply := <-replies:
		if errors.Is(reply.Err, context.DeadlineExceeded) {
			reply.Err = ErrAckTimeout
		}
		return reply
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Reply{Err: ErrAckTimeout}
		}
		return Reply{Err: ctx.Err()}
	}
}

func (e *Engine) ackContext() (context.Context, context.CancelFunc) {
	if e.ackTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), e.ackTimeout)
}

// Observe logs every acknowledgement in results as it resolves. It runs in
// its own goroutine and returns immediately.
func (e *Engine) Observe(roomID, event string, results <-chan AckResult) {
	e.observers.Add(1)
	go func() {
		defer e.observers.Done()
		for res := range results {
			e.record(roomID, event, res)
		}
	}()
}

func (e *Engine) record(roomID, event string, res AckResult) {
	switch {
	case res.Reply.Err == nil:
		e.metrics.Acks.WithLabelValues(metrics.AckOK).Inc()
		e.log.Info("Ack received", "event", event, "room_id", roomID, "conn_id", res.ConnID, "reply", res.Reply.Data.String())
	case errors.Is(res.Reply.Err, ErrAckTimeout):
		e.metrics.Acks.WithLabelValues(metrics.AckTimeout).Inc()
		e.log.Warn("Ack timed out", "event", event, "room_id", roomID, "conn_id", res.ConnID)
	default:
		e.metrics.Acks.WithLabelValues(metrics.AckError).Inc()
		e.log.Warn("Ack error", "event", event, "room_id", roomID, "conn_id", res.ConnID, "err", res.Reply.Err)
	}
}

// Wait blocks until every observer started with Observe has drained, or ctx
// is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.observers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
