package api

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/log"
	"github.com/rubiojr/volunteer/pkg/notify"
	"github.com/rubiojr/volunteer/pkg/realtime"
	"github.com/rubiojr/volunteer/pkg/search"
	"github.com/rubiojr/volunteer/pkg/storage"
)

var logger = log.ForService("api")

// Options holds the optional collaborators of a Server.
type Options struct {
	// Hub feeds the websocket stream. A hub with a 32 notice buffer is
	// created when nil.
	Hub *realtime.Hub

	// Publisher receives every event change notice in addition to Hub.
	Publisher notify.Publisher

	// RateLimit is the sustained requests per second accepted under /api/.
	// Zero disables rate limiting.
	RateLimit float64
	RateBurst int

	// CORSOrigins lists the origins allowed to call the API. Empty allows
	// any origin.
	CORSOrigins []string
}

type Server struct {
	store     storage.Store
	pipeline  *search.Pipeline
	resolver  *geocode.Resolver
	hub       *realtime.Hub
	publisher notify.Publisher
	limiter   *rate.Limiter
	origins   map[string]bool
}

func NewServer(store storage.Store, pipeline *search.Pipeline, opts Options) *Server {
	hub := opts.Hub
	if hub == nil {
		hub = realtime.NewHub(0)
	}

	s := &Server{
		store:     store,
		pipeline:  pipeline,
		resolver:  geocode.NewResolver(store),
		hub:       hub,
		publisher: notify.Fanout{hub, opts.Publisher},
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if len(opts.CORSOrigins) > 0 {
		s.origins = make(map[string]bool, len(opts.CORSOrigins))
		for _, o := range opts.CORSOrigins {
			s.origins[o] = true
		}
	}
	return s
}

// Hub returns the hub feeding the websocket stream.
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}

// Handler returns the routes wrapped in the standard middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.requestID(s.cors(s.rateLimit(compress(mux))))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warnf("error encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

// publish announces a change. Delivery failures are logged, never returned
// to the client: the change itself already succeeded.
func (s *Server) publish(ctx context.Context, n realtime.Notice) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), n); err != nil {
		logger.Warnf("publishing %s notice for event %d: %v", n.Action, n.EventID, err)
	}
}
