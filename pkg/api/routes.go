package api

import (
	"net/http"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/events", s.HandleSearch)
	mux.HandleFunc("POST /api/events", s.HandleCreateEvent)
	mux.HandleFunc("GET /api/events/stream", s.HandleStream)
	mux.HandleFunc("GET /api/events/{id}", s.HandleGetEvent)
	mux.HandleFunc("PUT /api/events/{id}", s.HandleUpdateEvent)
	mux.HandleFunc("DELETE /api/events/{id}", s.HandleDeleteEvent)
	mux.HandleFunc("GET /api/zipcodes/{zip}", s.HandleZipcode)
	mux.HandleFunc("GET /api/stats", s.HandleStats)
	mux.HandleFunc("GET /health", s.HandleHealth)
}
