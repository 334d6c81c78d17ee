package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/observability"
	"github.com/searchlens/searchlens/internal/server/handlers"
)

// adminTokenEnv names the bearer token that enables POST /admin/signal.
const adminTokenEnv = "SEARCHLENS_ADMIN_TOKEN"

func (s *Server) registerRoutes() {
	health := s.opts.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Application telemetry proxied from the gofulmen exporter.
	s.router.Get("/metrics", MetricsHandler)
	if s.opts.ClientMetrics != nil {
		s.router.Handle("/metrics/client", s.opts.ClientMetrics)
	}

	if s.opts.API != nil {
		s.router.Route("/v1", s.opts.API.Routes)
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint mounts the signal endpoint when a token is configured.
func (s *Server) registerAdminEndpoint() {
	adminToken := os.Getenv(adminTokenEnv)
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + adminTokenEnv + " set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
