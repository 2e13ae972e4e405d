package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/allaspectsdev/modelmux/internal/tracing"
)

// ServerOptions configures the query API server.
type ServerOptions struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Tracing adds the OpenTelemetry middleware that extracts incoming
	// trace context.
	Tracing bool
	// AuthToken, when non-empty, is required as a bearer token on /v1 routes.
	// Several comma-separated tokens may be accepted at once.
	AuthToken string
}

// Server is the HTTP server for the query API. It binds the chi router to
// the configured address and provides graceful shutdown support.
type Server struct {
	router  chi.Router
	handler *QueryHandler
	httpSrv *http.Server
}

// NewServer creates a Server. Zero-value timeouts leave the corresponding
// http.Server field at its default (no timeout).
func NewServer(handler *QueryHandler, opts ServerOptions) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if opts.Tracing {
		r.Use(tracing.HTTPMiddleware)
	}

	r.Get("/health", handler.HandleHealth)
	r.Get("/health/ready", handler.HandleReady)

	r.Group(func(r chi.Router) {
		if opts.AuthToken != "" {
			r.Use(AuthMiddleware(opts.AuthToken))
		}
		r.Post("/v1/query", handler.HandleQuery)
	})

	srv := &Server{
		router:  r,
		handler: handler,
	}
	srv.httpSrv = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return srv
}

// Router returns the underlying chi.Router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections on the configured address.
// It blocks until the server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight queries to
// complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
