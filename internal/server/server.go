package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/searchlens/searchlens/internal/errors"
	"github.com/searchlens/searchlens/internal/observability"
	"github.com/searchlens/searchlens/internal/server/handlers"
	servermw "github.com/searchlens/searchlens/internal/server/middleware"
)

// Options wires the server to the cluster-facing components. Nil fields
// disable the matching routes.
type Options struct {
	API           *handlers.API
	Health        *handlers.HealthManager
	ClientMetrics http.Handler
	// WriteTimeout must cover the client's elapsed budget or long backoffs
	// get cut off mid-retry.
	WriteTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options
	host   string
	port   int
}

// New creates a new HTTP server instance
func New(host string, port int, opts Options) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	// RequestID first for correlation, metrics around everything, recovery innermost.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	if opts.Health == nil {
		opts.Health = handlers.NewHealthManager(handlers.AppVersion)
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 90 * time.Second
	}

	s := &Server{
		router: r,
		opts:   opts,
		host:   host,
		port:   port,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.host),
			zap.Int("port", s.port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
