// Package core provides the HTTP chassis for PayGate: a chi router with the
// cross-cutting middleware (recovery, request ids, logging, CORS, identity
// verification, rate limiting) applied before requests reach the webhook,
// order, and admin handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paygate/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a handler group onto a router. It keeps core free of
// imports from the handler packages.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies shared by every route.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// Verifier checks bearer tokens on /v1 routes. Nil disables verification.
	Verifier IdentityVerifier
	// AdminKeys accepts X-Admin-Key as an alternative to an admin token.
	AdminKeys      AdminKeyVerifier
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// PublicRouteRegistrars mount unauthenticated routes (provider webhooks).
	PublicRouteRegistrars []RouteRegistrar
	// V1RouteRegistrars mount routes under /v1, behind identity verification.
	V1RouteRegistrars []RouteRegistrar

	shutdownHooks []func(context.Context) error
	router        *chi.Mux
}

// NewServer validates the required dependencies and prepares an empty router.
// Callers populate the optional fields and then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a hook run by Shutdown, in registration order.
func (s *Server) OnShutdown(hook func(context.Context) error) {
	s.shutdownHooks = append(s.shutdownHooks, hook)
}

// Shutdown runs every hook and reports all failures.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for _, hook := range s.shutdownHooks {
		if err := hook(ctx); err != nil {
			s.Logger.ErrorContext(ctx, "shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("server shutdown: %w", errors.Join(errs...))
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
