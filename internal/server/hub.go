package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Hub owns the live clients and their pump goroutines. Room membership and
// event routing live in the relay; the hub only tracks sockets.
type Hub struct {
	cfg   *config.Config
	log   *slog.Logger
	relay *relay.Relay

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a hub bound to rl. Run must be started before clients are
// registered.
func NewHub(cfg *config.Config, log *slog.Logger, rl *relay.Relay) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		log:        log,
		relay:      rl,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			h.add(client)

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// Register hands client to the hub, which starts its pumps. It returns false
// if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

func (h *Hub) add(client *Client) {
	h.mutex.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.log.Info("Client registered", "conn_id", client.id, "addr", client.addr, "clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// remove forgets client and releases its room memberships.
func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()
	if !ok {
		return
	}

	client.markClosed()
	h.relay.Lifecycle.Close(client.id)
	h.log.Info("Client unregistered", "conn_id", client.id, "addr", client.addr, "clients", clientCount)
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// shutdownClients closes every client; their pumps then exit on their own.
func (h *Hub) shutdownClients() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.markClosed()
	}
	h.log.Info("Closed client connections", "clients", len(clients))
}

// Shutdown stops the hub and waits for every pump goroutine and pending
// acknowledgement observer, or until ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info("Initiating hub shutdown")
	h.cancel()

	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return ctx.Err()
	}

	if err := h.relay.Engine.Wait(ctx); err != nil {
		return err
	}
	h.log.Info("Hub shutdown completed")
	return nil
}
