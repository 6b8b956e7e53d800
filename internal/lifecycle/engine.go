// Package lifecycle implements the trial lifecycle state machine and the
// periodic sweep that drives time-based transitions.
//
// All transition logic lives in Engine.Evaluate so status comparisons are not
// scattered across call sites. Evaluate is pure; Advance applies the computed
// transition to an instance and must run under the instance lock owned by the
// registry. Expiry side effects (backend teardown, registry removal) are left
// to the caller because they cannot run while the instance lock is held.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
)

// Config holds the lifecycle thresholds.
type Config struct {
	// WarningThresholdDays is the remaining-days boundary at which an
	// active trial transitions to Warning.
	WarningThresholdDays int

	// FreezeDuration is how long a frozen sandbox is retained before it
	// expires and is deleted.
	FreezeDuration time.Duration
}

// Notifier receives the trial-warning side effect. Implementations must be
// best-effort: a failed notification never blocks or fails the transition.
type Notifier interface {
	TrialWarning(ctx context.Context, userID string, daysRemaining int, expiresAt time.Time)
}

// Outcome describes the result of evaluating an instance at a point in time.
type Outcome struct {
	Previous domain.Status
	Status   domain.Status

	// Warned is set on the Active -> Warning transition (at most once per
	// instance, guarded by the transition itself).
	Warned bool
	// Froze is set on the Active/Warning -> Frozen transition.
	Froze bool
	// Expired is set on the Frozen -> Expired transition. The caller must
	// tear down the execution environment and remove the instance.
	Expired bool
}

// Changed reports whether the evaluation produced a transition.
func (o Outcome) Changed() bool { return o.Previous != o.Status }

// Engine computes and applies lifecycle transitions.
type Engine struct {
	cfg      Config
	notifier Notifier
	logger   *slog.Logger
}

// NewEngine creates a lifecycle engine. notifier may be nil.
func NewEngine(cfg Config, notifier Notifier, logger *slog.Logger) *Engine {
	if cfg.WarningThresholdDays <= 0 {
		cfg.WarningThresholdDays = 5
	}
	if cfg.FreezeDuration <= 0 {
		cfg.FreezeDuration = 30 * 24 * time.Hour
	}
	return &Engine{cfg: cfg, notifier: notifier, logger: logger}
}

// DaysRemaining returns the whole days left before expiry, clamped at zero.
// A frozen instance always reports zero regardless of its expiry timestamp.
func DaysRemaining(inst *domain.SandboxInstance, now time.Time) int {
	if inst.Status == domain.StatusFrozen || inst.Status == domain.StatusExpired {
		return 0
	}
	remaining := inst.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / (24 * time.Hour))
}

// Evaluate computes the transition for an instance at the given time without
// mutating it. Safe to call arbitrarily often: re-evaluating an instance that
// already holds the computed status reports no transition flags.
//
// Precedence: expiry of a frozen instance first, then freeze, then warning.
// Freeze wins over warning when both thresholds are crossed at once, and
// Expired is only reachable from Frozen: a trial always dwells in the frozen
// state before timer-driven deletion.
func (e *Engine) Evaluate(inst *domain.SandboxInstance, now time.Time) Outcome {
	out := Outcome{Previous: inst.Status, Status: inst.Status}

	switch inst.Status {
	case domain.StatusExpired:
		return out

	case domain.StatusFrozen:
		if inst.FrozenAt != nil && now.Sub(*inst.FrozenAt) >= e.cfg.FreezeDuration {
			out.Status = domain.StatusExpired
			out.Expired = true
		}
		return out
	}

	// Active or Warning. Freezing is checked first: on the last partial
	// day DaysRemaining is already zero, and freeze wins over warn.
	if DaysRemaining(inst, now) <= 0 {
		out.Status = domain.StatusFrozen
		out.Froze = true
		return out
	}

	if inst.Status == domain.StatusActive && DaysRemaining(inst, now) <= e.cfg.WarningThresholdDays {
		out.Status = domain.StatusWarning
		out.Warned = true
	}
	return out
}

// Advance evaluates the instance and applies the transition in place. Must be
// called under the instance lock. The trial-warning notification fires here,
// exactly once per instance, because only the Active -> Warning transition
// sets Warned.
func (e *Engine) Advance(ctx context.Context, inst *domain.SandboxInstance, now time.Time) Outcome {
	out := e.Evaluate(inst, now)
	if !out.Changed() {
		return out
	}

	inst.Status = out.Status
	if out.Froze {
		frozenAt := now
		inst.FrozenAt = &frozenAt
	}

	e.logger.InfoContext(ctx, "sandbox lifecycle transition",
		slog.String("sandbox_id", inst.ID.String()),
		slog.String("user_id", inst.UserID),
		slog.String("from", string(out.Previous)),
		slog.String("to", string(out.Status)),
	)

	if out.Warned && e.notifier != nil {
		e.notifier.TrialWarning(ctx, inst.UserID, DaysRemaining(inst, now), inst.ExpiresAt)
	}
	return out
}
