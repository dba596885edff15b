// Package server wires HTTP handlers into a ServeMux for the RoomChat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for health checks, the WebSocket endpoint, room
// presence, and the test page.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("GET /rooms/{roomId}/online", s.OnlineHandler)
	mux.HandleFunc("GET /test", TestPageHandler)
	return mux
}
