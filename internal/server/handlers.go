package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Tyrowin/roomrelay/internal/payload"
)

// AuthParam is the query parameter carrying the JSON connect payload.
const AuthParam = "auth"

// RoomCount is the body of GET /room/{room_id}/users.
type RoomCount struct {
	RoomIDVal string `json:"room_id_val"`
	RoomCount int    `json:"room_count"`
}

// WebSocketHandler upgrades the request and hands the new client to the hub.
// The auth query parameter is decoded as the connect payload.
func (s *State) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	connectData := payload.Parse([]byte(r.URL.Query().Get(AuthParam)))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, s.Hub, r.RemoteAddr, connectData)
	if !s.Hub.Register(client) {
		s.Log.Warn("Hub is shutting down, rejecting client", "remote_addr", r.RemoteAddr)
		_ = conn.Close()
	}
}

// RoomUsersHandler reports the member count of a room and pushes it to the
// room's members.
func (s *State) RoomUsersHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	s.Log.Info("Room member count requested", "room_id", roomID)

	count := s.Relay.Membership.QueryAndNotify(roomID)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RoomCount{RoomIDVal: roomID, RoomCount: count}); err != nil {
		s.Log.Warn("Failed to write room count", "room_id", roomID, "err", err)
	}
}

// HomeHandler renders the index page.
func (s *State) HomeHandler(w http.ResponseWriter, _ *http.Request) {
	s.Pages.Render(w, IndexPage, http.StatusOK)
}

// NotFoundHandler renders the 404 page for every unmatched route.
func (s *State) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.Log.Info("Unmatched route", "method", r.Method, "path", r.URL.Path)
	s.Pages.Render(w, NotFoundPage, http.StatusNotFound)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Room relay is running!")
}
