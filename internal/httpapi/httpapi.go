// Package httpapi implements the caller-facing HTTP API.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-sandbox rate limiting via token bucket
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/dispatch"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/lifecycle"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/observability"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/ratelimit"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/registry"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/storage"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/vertical"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API server.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key -> user ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry          // Custom Prometheus registry for /metrics.
	MetricsPath     string                        // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker  // Health checker for /readyz.
	Metrics         *observability.Metrics        // HTTP middleware metrics.
	Tracer          trace.Tracer                  // OTel tracer for HTTP middleware.
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	registry   *registry.Registry
	verticals  *vertical.Store
	dispatcher *dispatch.Dispatcher
	sweeper    *lifecycle.Sweeper
	events     *storage.EventStore // nil = journal endpoints disabled.
	limiter    *ratelimit.Limiter
	clock      domain.Clock
	logger     *slog.Logger
	server     *http.Server
	okapi      *okapi.Okapi
	group      *okapi.Group
}

// NewServer creates the HTTP API server.
func NewServer(
	cfg Config,
	reg *registry.Registry,
	verticals *vertical.Store,
	dispatcher *dispatch.Dispatcher,
	sweeper *lifecycle.Sweeper,
	limiter *ratelimit.Limiter,
	clock domain.Clock,
	logger *slog.Logger,
) *Server {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Server{
		config:     cfg,
		registry:   reg,
		verticals:  verticals,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		limiter:    limiter,
		clock:      clock,
		logger:     logger,
		okapi:      okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithEventStore attaches the trial event journal, enabling the events
// endpoint.
func (s *Server) WithEventStore(events *storage.EventStore) *Server {
	s.events = events
	return s
}

// WithOpenAPIDocs enables the OpenAPI documentation UI.
func (s *Server) WithOpenAPIDocs() *Server {
	s.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Cockpit Trial Runtime",
			Version: "v0.1.0",
		},
	)
	return s
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	if s.config.Metrics != nil || s.config.Tracer != nil {
		s.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(s.config.Metrics, s.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	s.group = s.okapi.Group("/v1", s.authenticate)

	s.group.Post("/sandboxes", s.handleSandboxCreate,
		okapi.DocSummary("Provision a trial sandbox for the authenticated user"),
		okapi.DocTags("Sandboxes"),
		okapi.DocRequestBody(CreateSandboxRequest{}),
		okapi.DocResponse(http.StatusCreated, SandboxResponse{}),
		okapi.DocResponse(SandboxResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	s.group.Get("/sandboxes", s.handleSandboxList,
		okapi.DocSummary("List all trial sandboxes"),
		okapi.DocTags("Sandboxes"),
		okapi.DocResponse([]SandboxResponse{}),
	)
	s.group.Get("/sandboxes/{id}", s.handleSandboxGet,
		okapi.DocSummary("Get a trial sandbox by ID"),
		okapi.DocTags("Sandboxes"),
		okapi.DocPathParam("id", "string", "Sandbox ID (UUID)"),
		okapi.DocResponse(SandboxResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	s.group.Delete("/sandboxes/{id}", s.handleSandboxDelete,
		okapi.DocSummary("Delete a trial sandbox"),
		okapi.DocTags("Sandboxes"),
		okapi.DocPathParam("id", "string", "Sandbox ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	s.group.Post("/sandboxes/{id}/imports", s.handleImportRecord,
		okapi.DocSummary("Record a CSV import attempt against a sandbox"),
		okapi.DocTags("Sandboxes"),
		okapi.DocPathParam("id", "string", "Sandbox ID (UUID)"),
		okapi.DocRequestBody(ImportRequest{}),
		okapi.DocResponse(http.StatusCreated, map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	if s.events != nil {
		s.group.Get("/sandboxes/{id}/events", s.handleSandboxEvents,
			okapi.DocSummary("Get the trial event journal for a sandbox"),
			okapi.DocTags("Sandboxes"),
			okapi.DocPathParam("id", "string", "Sandbox ID (UUID)"),
			okapi.DocResponse([]storage.TrialEvent{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	s.group.Post("/query", s.handleQuery,
		okapi.DocSummary("Dispatch a query to a trial sandbox"),
		okapi.DocTags("Query"),
		okapi.DocRequestBody(QueryRequest{}),
		okapi.DocResponse(domain.AgentResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	s.group.Post("/sweep", s.handleSweep,
		okapi.DocSummary("Run one lifecycle sweep over all sandboxes"),
		okapi.DocTags("Lifecycle"),
		okapi.DocResponse(lifecycle.SweepResult{}),
	)
	s.group.Get("/stats", s.handleStats,
		okapi.DocSummary("Aggregate trial statistics"),
		okapi.DocTags("Lifecycle"),
		okapi.DocResponse(StatsResponse{}),
	)

	s.group.Get("/verticals", s.handleVerticalList,
		okapi.DocSummary("List available business verticals"),
		okapi.DocTags("Verticals"),
		okapi.DocResponse([]VerticalResponse{}),
	)
	s.group.Get("/verticals/{id}", s.handleVerticalGet,
		okapi.DocSummary("Get a vertical by ID"),
		okapi.DocTags("Verticals"),
		okapi.DocPathParam("id", "string", "Vertical ID"),
		okapi.DocResponse(VerticalResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if s.config.MetricsRegistry != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if s.config.EnableDocs {
		s.WithOpenAPIDocs()
	}

	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("http api server starting", slog.String("addr", s.config.ListenAddr))
	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("http api server stopping")
	return s.okapi.Shutdown(s.server)
}

// --- Sandbox handlers ---

// CreateSandboxRequest is the JSON body for POST /v1/sandboxes.
type CreateSandboxRequest struct {
	Vertical  string `json:"vertical"`
	TrialDays int    `json:"trial_days,omitempty"` // 0 = configured default.
}

// SandboxResponse is the JSON shape of a trial sandbox.
type SandboxResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Vertical      string     `json:"vertical"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	FrozenAt      *time.Time `json:"frozen_at,omitempty"`
	DaysRemaining int        `json:"days_remaining"`
	QueryCount    int        `json:"query_count"`
	LastQueryAt   *time.Time `json:"last_query_at,omitempty"`
}

func (s *Server) sandboxResponse(inst *domain.SandboxInstance) SandboxResponse {
	return SandboxResponse{
		ID:            inst.ID.String(),
		UserID:        inst.UserID,
		Vertical:      inst.Vertical,
		Status:        string(inst.Status),
		CreatedAt:     inst.CreatedAt,
		ExpiresAt:     inst.ExpiresAt,
		FrozenAt:      inst.FrozenAt,
		DaysRemaining: lifecycle.DaysRemaining(inst, s.clock.Now()),
		QueryCount:    inst.QueryCount,
		LastQueryAt:   inst.LastQueryAt,
	}
}

func (s *Server) handleSandboxCreate(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req CreateSandboxRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Vertical == "" {
		return c.AbortBadRequest("vertical is required")
	}

	existing, err := s.registry.GetByUser(userID)
	trialOverride := time.Duration(req.TrialDays) * 24 * time.Hour
	inst, createErr := s.registry.Create(userID, req.Vertical, trialOverride)
	if createErr != nil {
		if errors.Is(createErr, vertical.ErrUnknownVertical) {
			return c.AbortBadRequest("unknown vertical: " + req.Vertical)
		}
		return c.AbortBadRequest(createErr.Error())
	}

	// An existing non-expired sandbox is returned unchanged with 200.
	if err == nil && existing.ID == inst.ID {
		return c.OK(s.sandboxResponse(inst))
	}

	if s.events != nil {
		s.events.SandboxCreated(c.Context(), inst)
	}
	return c.JSON(http.StatusCreated, s.sandboxResponse(inst))
}

func (s *Server) handleSandboxList(c *okapi.Context) error {
	instances := s.registry.All()
	resp := make([]SandboxResponse, 0, len(instances))
	for _, inst := range instances {
		resp = append(resp, s.sandboxResponse(inst))
	}
	return c.OK(resp)
}

func (s *Server) handleSandboxGet(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid sandbox ID")
	}

	inst, err := s.registry.Get(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "sandbox not found"})
	}
	return c.OK(s.sandboxResponse(inst))
}

func (s *Server) handleSandboxDelete(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid sandbox ID")
	}

	// Record before removal; the journal needs user and vertical context.
	if inst, getErr := s.registry.Get(id); getErr == nil && s.events != nil {
		s.events.SandboxRemoved(c.Context(), inst)
	}

	s.registry.Remove(id)
	if s.limiter != nil {
		s.limiter.Release(id.String())
	}
	return c.OK(okapi.M{"status": "deleted"})
}

// ImportRequest is the JSON body for POST /v1/sandboxes/{id}/imports.
// The runtime records import attempts; parsing happens elsewhere.
type ImportRequest struct {
	Filename string `json:"filename"`
	RowCount int    `json:"row_count"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleImportRecord(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid sandbox ID")
	}

	var req ImportRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Filename == "" {
		return c.AbortBadRequest("filename is required")
	}

	rec := domain.CSVImportRecord{
		Filename: req.Filename,
		RowCount: req.RowCount,
		Success:  req.Success,
		Error:    req.Error,
	}
	if err := s.registry.RecordImport(id, rec); err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "sandbox not found"})
	}
	return c.JSON(http.StatusCreated, okapi.M{"status": "recorded"})
}

func (s *Server) handleSandboxEvents(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid sandbox ID")
	}

	limit, _ := strconv.Atoi(c.Request().URL.Query().Get("limit"))
	events, err := s.events.Events(c.Context(), id.String(), limit)
	if err != nil {
		s.logger.Error("journal read failed",
			slog.String("sandbox_id", id.String()),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("journal read failed")
	}
	return c.OK(events)
}

// --- Query handler ---

// QueryRequest is the JSON body for POST /v1/query.
type QueryRequest struct {
	SandboxID string `json:"sandbox_id"`
	Query     string `json:"query"`
	Agent     string `json:"agent,omitempty"` // Empty = keyword selection.
}

func (s *Server) handleQuery(c *okapi.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.SandboxID == "" {
		return c.AbortBadRequest("sandbox_id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.AbortBadRequest("query is required")
	}

	id, err := uuid.Parse(req.SandboxID)
	if err != nil {
		return c.AbortBadRequest("invalid sandbox ID")
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(req.SandboxID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	resp, err := s.dispatcher.Run(c.Context(), id, req.Query, req.Agent)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "sandbox not found"})
		}
		s.logger.Error("query dispatch failed",
			slog.String("sandbox_id", req.SandboxID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("query dispatch failed")
	}
	return c.OK(resp)
}

// --- Lifecycle handlers ---

func (s *Server) handleSweep(c *okapi.Context) error {
	result := s.sweeper.RunOnce(c.Context())
	return c.OK(result)
}

// StatsResponse is the JSON response for GET /v1/stats.
type StatsResponse struct {
	TotalSandboxes int            `json:"total_sandboxes"`
	ByStatus       map[string]int `json:"by_status"`
	ByVertical     map[string]int `json:"by_vertical"`
	TotalQueries   int            `json:"total_queries"`
}

func (s *Server) handleStats(c *okapi.Context) error {
	stats := s.registry.Snapshot()

	byStatus := make(map[string]int, len(stats.ByStatus))
	for k, v := range stats.ByStatus {
		byStatus[string(k)] = v
	}
	return c.OK(StatsResponse{
		TotalSandboxes: stats.TotalSandboxes,
		ByStatus:       byStatus,
		ByVertical:     stats.ByVertical,
		TotalQueries:   stats.TotalQueries,
	})
}

// --- Vertical handlers ---

// VerticalResponse is the JSON shape of a vertical catalog entry.
type VerticalResponse struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"display_name"`
	Tables        []string `json:"tables,omitempty"`
	Views         []string `json:"views,omitempty"`
	Agents        []string `json:"agents"`
	SampleQueries []string `json:"sample_queries,omitempty"`
}

func verticalResponse(vc *domain.VerticalConfig) VerticalResponse {
	return VerticalResponse{
		ID:            vc.ID,
		DisplayName:   vc.DisplayName,
		Tables:        vc.Schema.Tables,
		Views:         vc.Schema.Views,
		Agents:        vc.AgentNames(),
		SampleQueries: vc.SampleQueries,
	}
}

func (s *Server) handleVerticalList(c *okapi.Context) error {
	ids := s.verticals.List()
	resp := make([]VerticalResponse, 0, len(ids))
	for _, id := range ids {
		vc, err := s.verticals.Get(id)
		if err != nil {
			continue
		}
		resp = append(resp, verticalResponse(vc))
	}
	return c.OK(resp)
}

func (s *Server) handleVerticalGet(c *okapi.Context) error {
	vc, err := s.verticals.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "vertical not found"})
	}
	return c.OK(verticalResponse(vc))
}

// --- Health handlers ---

// HealthResponse is the JSON response for health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped user ID on the
// request context.
func (s *Server) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, mapped := range s.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = mapped
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}
