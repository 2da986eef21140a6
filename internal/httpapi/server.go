// Package httpapi serves the dive-shop REST API.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/addfeaturesnow/prodesk/internal/database"
	"github.com/addfeaturesnow/prodesk/internal/logging"
	"github.com/addfeaturesnow/prodesk/internal/metrics"
	"github.com/addfeaturesnow/prodesk/internal/middleware"
)

// Options configures the router middleware.
type Options struct {
	ServiceName string
	CORSOrigins []string
	RateLimiter *middleware.RateLimiter
	DefaultUser string
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	repo    database.Repository
	logger  *logging.Logger
	metrics *metrics.Metrics
	router  *mux.Router
}

// New builds the router. A nil RateLimiter disables rate limiting.
func New(repo database.Repository, logger *logging.Logger, m *metrics.Metrics, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "prodesk-api"
	}
	s := &Server{repo: repo, logger: logger, metrics: m, router: mux.NewRouter()}

	s.router.Use(middleware.LoggingMiddleware(logger))
	if m != nil {
		s.router.Use(middleware.MetricsMiddleware(opts.ServiceName, m))
	}
	s.router.Use(middleware.NewCORSMiddleware(opts.CORSOrigins).Handler)
	if opts.RateLimiter != nil {
		s.router.Use(opts.RateLimiter.Handler)
	}
	s.router.Use(middleware.NewMockAuth(opts.DefaultUser, logger).Handler)

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/groups", s.handleListGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupId}/members", s.handleAddMember).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupId}/members/{memberId}", s.handleRemoveMember).Methods(http.MethodDelete)
	api.HandleFunc("/divers", s.handleListDivers).Methods(http.MethodGet)
	api.HandleFunc("/divers", s.handleCreateDiver).Methods(http.MethodPost)

	// Preflight requests are answered by the CORS middleware, which only
	// runs for matched routes.
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// Router returns the HTTP handler.
func (s *Server) Router() *mux.Router { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
