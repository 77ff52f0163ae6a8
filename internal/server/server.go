// Package server provides the HTTP API server, middleware, and handlers.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/warden/internal/audit"
	"github.com/dativo-io/warden/internal/engine"
	"github.com/dativo-io/warden/internal/identity"
	"github.com/dativo-io/warden/internal/otel"
	"github.com/dativo-io/warden/internal/session"
	"github.com/dativo-io/warden/internal/tenant"
)

const defaultTimeout = 60 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router        *chi.Mux
	engine        *engine.Engine
	sessions      *session.Manager
	auditStore    *audit.Store
	resolver      identity.Resolver
	tenantManager *tenant.Manager
	corsOrigins   []string
	startTime     time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithTenantManager sets the tenant manager for rate limiting.
func WithTenantManager(tm *tenant.Manager) Option {
	return func(s *Server) { s.tenantManager = tm }
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithAuditStore enables the audit read API.
func WithAuditStore(store *audit.Store) Option {
	return func(s *Server) { s.auditStore = store }
}

// NewServer builds a Server with the required dependencies and optional
// Option(s).
func NewServer(eng *engine.Engine, sessions *session.Manager, resolver identity.Resolver, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		engine:      eng,
		sessions:    sessions,
		resolver:    resolver,
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.MiddlewareWithStatus())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.resolver))
		r.Use(RateLimitMiddleware(s.tenantManager))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/actions", s.handleAction)

		r.Get("/v1/sessions/{id}", s.handleSessionGet)
		r.Get("/v1/sessions/{id}/artifacts", s.handleArtifactsList)

		r.Get("/v1/audit", s.handleAuditList)
		r.Get("/v1/audit/{id}", s.handleAuditGet)
		r.Get("/v1/audit/{id}/verify", s.handleAuditVerify)

		r.Get("/v1/status", s.handleStatus)
	})

	return r
}
