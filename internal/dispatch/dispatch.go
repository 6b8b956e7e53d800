// Package dispatch routes accepted queries to the execution backend.
//
// Every invocation evaluates the trial lifecycle before anything else, under
// the same per-instance lock that guards the mutation it may produce: a stale
// Active read can never authorize execution past a true expiry boundary.
// Frozen and expired rejections are business states, not errors; they come
// back as failure-flagged responses and never touch the query counter.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/backend"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/lifecycle"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/registry"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/selector"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/vertical"
)

// Fixed advisory texts for business-state rejections.
const (
	ErrCodeFrozen  = "sandbox_frozen"
	ErrCodeExpired = "sandbox_expired"

	frozenAdvisory  = "This trial sandbox is frozen because the trial period has ended. Your data is retained for a grace period; contact us to reactivate your workspace."
	expiredAdvisory = "This trial sandbox has expired and its environment has been removed. Start a new trial to continue."
)

// EventRecorder persists query accounting. Best-effort.
type EventRecorder interface {
	QueryDispatched(ctx context.Context, inst *domain.SandboxInstance, resp *domain.AgentResponse)
	LifecycleTransition(ctx context.Context, inst *domain.SandboxInstance, previous domain.Status)
}

// Dispatcher orchestrates lifecycle check, agent selection, and execution.
type Dispatcher struct {
	registry  *registry.Registry
	verticals *vertical.Store
	engine    *lifecycle.Engine
	selector  *selector.Selector
	backend   backend.Backend
	recorder  EventRecorder // may be nil
	clock     domain.Clock
	timeout   time.Duration
	metrics   *Metrics     // may be nil
	tracer    trace.Tracer // may be nil
	logger    *slog.Logger
}

// Config bundles the dispatcher's collaborators.
type Config struct {
	Registry  *registry.Registry
	Verticals *vertical.Store
	Engine    *lifecycle.Engine
	Selector  *selector.Selector
	Backend   backend.Backend
	Recorder  EventRecorder
	Clock     domain.Clock
	Timeout   time.Duration // Per-query backend ceiling. Zero = 60s.
	Metrics   *Metrics
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// New creates a query dispatcher.
func New(cfg Config) *Dispatcher {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{
		registry:  cfg.Registry,
		verticals: cfg.Verticals,
		engine:    cfg.Engine,
		selector:  cfg.Selector,
		backend:   cfg.Backend,
		recorder:  cfg.Recorder,
		clock:     clock,
		timeout:   timeout,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
	}
}

// Run dispatches one query against a sandbox.
//
// An unknown sandbox ID returns registry.ErrNotFound; every other outcome,
// including rejections and backend failures, is a non-nil AgentResponse and a nil
// error. The whole evaluate-select-execute-account sequence runs under the
// sandbox's instance lock, so concurrent queries against the same sandbox are
// serialized while other sandboxes proceed untouched.
func (d *Dispatcher) Run(ctx context.Context, sandboxID uuid.UUID, query, explicitAgent string) (*domain.AgentResponse, error) {
	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "dispatch.run",
			trace.WithAttributes(attribute.String("sandbox_id", sandboxID.String())),
		)
		defer span.End()
	}

	now := d.clock.Now()

	var resp *domain.AgentResponse
	var out lifecycle.Outcome
	var snap domain.SandboxInstance

	err := d.registry.Locked(sandboxID, func(inst *domain.SandboxInstance) error {
		out = d.engine.Advance(ctx, inst, now)
		snap = *inst

		switch inst.Status {
		case domain.StatusFrozen:
			resp = d.reject(query, ErrCodeFrozen, frozenAdvisory, inst)
			return nil
		case domain.StatusExpired:
			resp = d.reject(query, ErrCodeExpired, expiredAdvisory, inst)
			return nil
		}

		// Active or Warning: the query is accepted.
		vc, err := d.verticals.Get(inst.Vertical)
		if err != nil {
			// A registered instance always references a known vertical;
			// reaching this is a configuration defect.
			return fmt.Errorf("resolving vertical for sandbox %s: %w", inst.ID, err)
		}

		resp = d.execute(ctx, inst, vc, query, explicitAgent)
		snap = *inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Expiry side effects run after the instance lock is released.
	if out.Expired {
		if terr := d.backend.Teardown(ctx, sandboxID.String()); terr != nil {
			d.logger.WarnContext(ctx, "backend teardown failed",
				slog.String("sandbox_id", sandboxID.String()),
				slog.String("error", terr.Error()),
			)
		}
		d.registry.Remove(sandboxID)
	}

	if d.recorder != nil {
		if out.Changed() {
			d.recorder.LifecycleTransition(ctx, &snap, out.Previous)
		}
		d.recorder.QueryDispatched(ctx, &snap, resp)
	}
	return resp, nil
}

// execute resolves the agent and runs the backend. Called under the instance
// lock with an accepted (Active/Warning) instance. The counter increments on
// every attempted execution: acceptance, not success, gates it.
func (d *Dispatcher) execute(ctx context.Context, inst *domain.SandboxInstance, vc *domain.VerticalConfig, query, explicitAgent string) *domain.AgentResponse {
	start := time.Now()

	agent := explicitAgent
	if agent != "" {
		if _, ok := vc.Agent(agent); !ok {
			agent = ""
		}
	}
	if agent == "" {
		agent = d.selector.Select(query, vc.Agents)
	}

	result, err := d.backend.Execute(ctx, backend.ExecutionRequest{
		SandboxID: inst.ID.String(),
		Prompt:    query,
		Agent:     agent,
		Timeout:   d.timeout,
	})
	elapsed := time.Since(start)

	inst.QueryCount++
	lastQuery := d.clock.Now()
	inst.LastQueryAt = &lastQuery

	if err != nil {
		d.logger.WarnContext(ctx, "backend execution failed",
			slog.String("sandbox_id", inst.ID.String()),
			slog.String("agent", agent),
			slog.String("error", err.Error()),
		)
		d.observe(inst.Vertical, agent, "error", elapsed, 0)
		return &domain.AgentResponse{
			Query:           query,
			AgentUsed:       agent,
			ExecutionTimeMs: elapsed.Milliseconds(),
			Success:         false,
			Error:           err.Error(),
		}
	}

	d.logger.InfoContext(ctx, "query dispatched",
		slog.String("sandbox_id", inst.ID.String()),
		slog.String("vertical", inst.Vertical),
		slog.String("agent", agent),
		slog.Duration("duration", elapsed),
		slog.Int("tokens_used", result.TokensUsed),
	)
	d.observe(inst.Vertical, agent, "success", elapsed, result.TokensUsed)

	return &domain.AgentResponse{
		Query:           query,
		Response:        result.Stdout,
		AgentUsed:       agent,
		ExecutionTimeMs: elapsed.Milliseconds(),
		TokensUsed:      result.TokensUsed,
		Success:         true,
	}
}

// reject builds the failure-flagged response for a frozen or expired trial.
// The query counter is deliberately untouched.
func (d *Dispatcher) reject(query, code, advisory string, inst *domain.SandboxInstance) *domain.AgentResponse {
	d.observe(inst.Vertical, "", "rejected", 0, 0)
	return &domain.AgentResponse{
		Query:    query,
		Response: advisory,
		Success:  false,
		Error:    code,
	}
}

func (d *Dispatcher) observe(vertical, agent, outcome string, elapsed time.Duration, tokens int) {
	if d.metrics == nil {
		return
	}
	d.metrics.QueriesTotal.WithLabelValues(vertical, agent, outcome).Inc()
	if outcome != "rejected" {
		d.metrics.QueryDuration.WithLabelValues(vertical).Observe(elapsed.Seconds())
	}
	if tokens > 0 {
		d.metrics.TokensUsed.WithLabelValues(vertical).Add(float64(tokens))
	}
}
