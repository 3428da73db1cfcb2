package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/search"
	"github.com/rubiojr/volunteer/pkg/version"
)

func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := search.ParseQuery(r.URL.Query())

	results, err := s.pipeline.Search(r.Context(), query)
	switch {
	case errors.Is(err, search.ErrInvalidZipcode):
		s.writeError(w, http.StatusBadRequest, codeInvalidZipcode, "Invalid zipcode.")
		return
	case errors.Is(err, search.ErrZipcodeNotFound):
		s.writeError(w, http.StatusBadRequest, codeZipcodeNotFound, "Zipcode not found.")
		return
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warnf("search timed out: %v", err)
		s.writeError(w, http.StatusGatewayTimeout, codeTimeout, "Search timed out.")
		return
	case err != nil:
		logger.Errorf("search failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, codeInternal, "Search failed.")
		return
	}

	if results == nil {
		results = []core.EventSummary{}
	}
	s.writeJSON(w, http.StatusOK, SearchResponse{
		Events: results,
		Count:  len(results),
	})
}

func (s *Server) HandleZipcode(w http.ResponseWriter, r *http.Request) {
	record, err := s.resolver.Resolve(r.Context(), r.PathValue("zip"))
	if err != nil {
		s.writeZipcodeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// writeZipcodeError maps resolver errors to responses. Unknown zipcodes are
// a client error, matching the search endpoint.
func (s *Server) writeZipcodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, geocode.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, codeInvalidZipcode, "Invalid zipcode.")
	case errors.Is(err, geocode.ErrNotFound):
		s.writeError(w, http.StatusBadRequest, codeZipcodeNotFound, "Zipcode not found.")
	default:
		logger.Errorf("resolving zipcode: %v", err)
		s.writeError(w, http.StatusInternalServerError, codeInternal, "Zipcode lookup failed.")
	}
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		logger.Errorf("getting stats: %v", err)
		s.writeError(w, http.StatusInternalServerError, codeInternal, "Failed to get stats.")
		return
	}

	s.writeJSON(w, http.StatusOK, StatsResponse{
		Storage:        stats,
		Listeners:      s.hub.Size(),
		DroppedNotices: s.hub.Dropped(),
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   version.APIVersion(),
	}

	s.writeJSON(w, http.StatusOK, health)
}
