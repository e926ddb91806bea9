// Package server implements the HTTP API for Sightline.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sightline-hq/sightline/internal/auth"
	"github.com/sightline-hq/sightline/internal/model"
	"github.com/sightline-hq/sightline/internal/ratelimit"
	"github.com/sightline-hq/sightline/internal/runner"
)

// Store is the slice of the storage layer the HTTP handlers need.
// *storage.DB satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (model.Organization, error)
	CreateApp(ctx context.Context, orgID uuid.UUID, req model.CreateAppRequest) (model.App, error)
	GetApp(ctx context.Context, orgID, id uuid.UUID) (model.App, error)
	ListApps(ctx context.Context, orgID uuid.UUID) ([]model.App, error)
	CreateRun(ctx context.Context, orgID uuid.UUID, req model.CreateRunRequest) (model.AuditRun, error)
	GetRun(ctx context.Context, orgID, id uuid.UUID) (model.AuditRun, error)
	ListRuns(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]model.AuditRun, error)
	MarkRunError(ctx context.Context, orgID, id uuid.UUID) error
	ListQueries(ctx context.Context, orgID, runID uuid.UUID, status model.QueryStatus) ([]model.AuditQuery, error)
	CreateTemplate(ctx context.Context, orgID uuid.UUID, req model.CreateTemplateRequest) (model.QueryTemplate, error)
	ListTemplates(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]model.QueryTemplate, error)
}

// Server is the Sightline HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Store   Store
	Manager *runner.Manager
	JWTMgr  *auth.JWTManager
	Logger  *slog.Logger

	// Optional; nil means rate limiting is disabled.
	Limiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	Version             string

	// OpenAPISpec, when non-empty, is served at GET /openapi.yaml.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}

	h := &Handlers{
		store:               cfg.Store,
		manager:             cfg.Manager,
		jwtMgr:              cfg.JWTMgr,
		logger:              cfg.Logger,
		startedAt:           time.Now(),
		version:             cfg.Version,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}

	authn := func(next http.Handler) http.Handler {
		return authMiddleware(cfg.JWTMgr, next)
	}
	limited := func(next http.Handler) http.Handler {
		return rateLimitMiddleware(limiter, cfg.Logger, next)
	}
	api := func(fn http.HandlerFunc) http.Handler {
		return authn(limited(fn))
	}

	mux := http.NewServeMux()

	// Token exchange is unauthenticated and limited by client address
	// instead of org.
	mux.Handle("POST /auth/token", rateLimitByAddrMiddleware(limiter, cfg.Logger, http.HandlerFunc(h.HandleAuthToken)))

	mux.Handle("POST /v1/apps", api(h.HandleCreateApp))
	mux.Handle("GET /v1/apps", api(h.HandleListApps))

	mux.Handle("POST /v1/runs", api(h.HandleCreateRun))
	mux.Handle("GET /v1/runs", api(h.HandleListRuns))
	mux.Handle("GET /v1/runs/{run_id}", api(h.HandleGetRun))
	mux.Handle("POST /v1/runs/{run_id}/start", api(h.HandleStartRun))
	mux.Handle("POST /v1/runs/{run_id}/stop", api(h.HandleStopRun))
	mux.Handle("GET /v1/runs/{run_id}/progress", api(h.HandleRunProgress))
	mux.Handle("GET /v1/runs/{run_id}/queries", api(h.HandleListRunQueries))

	mux.Handle("POST /v1/templates", api(h.HandleCreateTemplate))
	mux.Handle("GET /v1/templates", api(h.HandleListTemplates))

	mux.HandleFunc("GET /health", h.HandleHealth)

	if len(cfg.OpenAPISpec) > 0 {
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(cfg.OpenAPISpec)
		})
	}

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = tracingMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
