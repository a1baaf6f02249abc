package server

import (
	"net/http"

	"github.com/rs/cors"
)

// SetupRoutes returns the application handler: the HTTP routes, the
// WebSocket endpoint and static files behind the CORS middleware.
func SetupRoutes(s *State) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.HomeHandler)
	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("GET /room/{room_id}/users", s.RoomUsersHandler)
	mux.Handle("GET /metrics", s.Metrics.Handler())
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.Config.StaticPath))))
	mux.HandleFunc("/", s.NotFoundHandler)

	c := cors.New(cors.Options{
		AllowedOrigins: s.Config.Origins(),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}
