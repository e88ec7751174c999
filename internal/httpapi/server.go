// Package httpapi exposes the engine over HTTP: chat, agent CRUD, memory
// CRUD and search, SPARQL passthrough, extraction runs, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/purplefabric/graphrag/internal/agent"
	"github.com/purplefabric/graphrag/internal/extraction"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/ingest"
	"github.com/purplefabric/graphrag/internal/memory"
	"github.com/purplefabric/graphrag/internal/orchestrator"
	"github.com/purplefabric/graphrag/internal/store/triple"
	"go.uber.org/zap"
)

// Identity headers.
const (
	HeaderTenantID    = "x-tenant-id"
	HeaderWorkspaceID = "x-workspace-id"
	HeaderUserID      = "x-user-id"
)

// Chatter runs one chat request. Implemented by the orchestrator.
type Chatter interface {
	Chat(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// ExtractionRunner starts one extraction pipeline run.
type ExtractionRunner interface {
	Execute(ctx context.Context, req extraction.Request) (*extraction.Run, error)
}

// MemoryStore is the memory surface the CRUD routes use.
type MemoryStore interface {
	AddMemory(ctx context.Context, agent, user string, in memory.AddInput) (*memory.Memory, error)
	SearchMemories(ctx context.Context, agent, user, query string, topK int) ([]memory.Recalled, error)
	GetMemory(ctx context.Context, agent, user, id string) (*memory.Memory, error)
	DeleteMemory(ctx context.Context, agent, user, id string) error
}

// SPARQLExecutor runs a workspace-scoped read query against the fabric.
type SPARQLExecutor interface {
	QueryData(ctx context.Context, tenant, workspace, query string, additionalWorkspaces []string) (*triple.Result, error)
}

// DocumentImporter loads a Turtle document into the workspace data graph.
type DocumentImporter interface {
	ImportDocument(ctx context.Context, tenant, workspace, documentID, turtle string) (*ingest.Result, error)
}

// Pinger is a connection probe; the health endpoint aggregates them.
type Pinger interface {
	CheckConnection(ctx context.Context) error
}

// Config holds the listener settings.
type Config struct {
	Host string
	Port int
}

// Deps carries the server's collaborators; nil entries disable their routes.
type Deps struct {
	Chat       Chatter
	Agents     *agent.Service
	Memory     MemoryStore
	SPARQL     SPARQLExecutor
	Extraction ExtractionRunner
	Runs       *extraction.RunStore
	Importer   DocumentImporter
	Pingers    map[string]Pinger
}

// Server hosts the HTTP surface.
type Server struct {
	echo    *echo.Echo
	logger  *zap.Logger
	config  Config
	deps    Deps
	metrics *apiMetrics

	bg sync.WaitGroup
}

// NewServer builds the server and registers all routes.
func NewServer(deps Deps, logger *zap.Logger, cfg Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:    e,
		logger:  logger.Named("httpapi"),
		config:  cfg,
		deps:    deps,
		metrics: newAPIMetrics(),
	}
	e.Use(s.requestLogger)
	e.Use(s.metrics.middleware)
	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	// The default gatherer carries the extraction pipeline counters.
	gatherers := prometheus.Gatherers{s.metrics.registry, prometheus.DefaultGatherer}
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))

	if s.deps.Agents != nil {
		s.echo.POST("/agents", s.handleCreateAgent)
		s.echo.GET("/agents", s.handleListAgents)
		s.echo.GET("/agents/:id", s.handleGetAgent)
		s.echo.PUT("/agents/:id", s.handleUpdateAgent)
		s.echo.DELETE("/agents/:id", s.handleDeleteAgent)
	}
	if s.deps.Chat != nil {
		s.echo.POST("/agents/:id/chat", s.handleChat)
	}
	if s.deps.Memory != nil {
		s.echo.POST("/agents/:id/memories", s.handleAddMemory)
		s.echo.GET("/agents/:id/memories/search", s.handleSearchMemories)
		s.echo.GET("/agents/:id/memories/:memoryId", s.handleGetMemory)
		s.echo.DELETE("/agents/:id/memories/:memoryId", s.handleDeleteMemory)
	}
	if s.deps.SPARQL != nil {
		s.echo.POST("/sparql/query", s.handleSPARQLQuery)
	}
	if s.deps.Extraction != nil && s.deps.Runs != nil {
		s.echo.POST("/extraction/run", s.handleStartExtraction)
		s.echo.GET("/extraction/runs", s.handleListRuns)
		s.echo.GET("/extraction/runs/:runId", s.handleGetRun)
		s.echo.GET("/extraction/quarantine", s.handleQuarantine)
	}
	if s.deps.Importer != nil {
		s.echo.POST("/documents/import", s.handleImportDocument)
	}
}

// identity pulls tenant/workspace/user from headers. Tenant and workspace
// are mandatory on every data route.
type identity struct {
	TenantID    string
	WorkspaceID string
	UserID      string
}

func (s *Server) identity(c echo.Context) (identity, error) {
	id := identity{
		TenantID:    c.Request().Header.Get(HeaderTenantID),
		WorkspaceID: c.Request().Header.Get(HeaderWorkspaceID),
		UserID:      c.Request().Header.Get(HeaderUserID),
	}
	if id.TenantID == "" || id.WorkspaceID == "" {
		return id, fault.New(fault.ConfigurationError, "x-tenant-id and x-workspace-id headers are required")
	}
	return id, nil
}

// errorPayload is the structured error body.
type errorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// respondError maps fault kinds and not-found sentinels to HTTP status.
func (s *Server) respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, agent.ErrNotFound),
		errors.Is(err, memory.ErrMemoryNotFound),
		errors.Is(err, extraction.ErrRunNotFound):
		status = http.StatusNotFound
	default:
		switch fault.KindOf(err) {
		case fault.ConfigurationError, fault.ValidationFailed, fault.QueryGenerationFailed:
			status = http.StatusBadRequest
		case fault.QueryExecutionFailed, fault.SchemaMismatch:
			status = http.StatusUnprocessableEntity
		case fault.ConfidenceBelowThreshold:
			status = http.StatusUnprocessableEntity
		case fault.ConcurrencyLimitExceeded:
			status = http.StatusTooManyRequests
		case fault.BackendUnavailable:
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	return c.JSON(status, errorPayload{Error: err.Error(), Kind: string(fault.KindOf(err))})
}

// HealthResponse reports per-backend connectivity.
type HealthResponse struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if len(s.deps.Pingers) > 0 {
		resp.Backends = make(map[string]string, len(s.deps.Pingers))
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		for name, p := range s.deps.Pingers {
			if err := p.CheckConnection(ctx); err != nil {
				resp.Backends[name] = err.Error()
				resp.Status = "degraded"
			} else {
				resp.Backends[name] = "ok"
			}
		}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

// Start begins serving. Blocks until Shutdown or failure.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops the listener and drains background extraction runs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	err := s.echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline hit with background runs in flight")
	}
	return err
}
