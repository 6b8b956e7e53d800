package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
)

// InstanceSource is the registry surface the sweeper needs. Locked must
// serialize against concurrent queries on the same instance.
type InstanceSource interface {
	All() []*domain.SandboxInstance
	Locked(id uuid.UUID, fn func(inst *domain.SandboxInstance) error) error
	Remove(id uuid.UUID)
}

// Teardowner tears down the backing execution environment of an expired
// sandbox.
type Teardowner interface {
	Teardown(ctx context.Context, sandboxID string) error
}

// EventRecorder persists lifecycle transitions. Best-effort: recording
// failures are the recorder's problem, never the sweep's.
type EventRecorder interface {
	LifecycleTransition(ctx context.Context, inst *domain.SandboxInstance, previous domain.Status)
}

// SweepResult counts what one sweep pass did.
type SweepResult struct {
	Checked int `json:"checked"`
	Warned  int `json:"warned"`
	Frozen  int `json:"frozen"`
	Deleted int `json:"deleted"`
}

// Sweeper periodically evaluates every registered instance so that trials
// expire even when nobody queries them. Each instance is processed under its
// own lock only; a sweep never blocks query traffic on other sandboxes.
type Sweeper struct {
	source   InstanceSource
	engine   *Engine
	backend  Teardowner
	recorder EventRecorder // may be nil
	clock    domain.Clock
	metrics  *Metrics // may be nil
	logger   *slog.Logger

	schedule cron.Schedule
}

// NewSweeper creates a sweeper firing on the given 5-field cron expression.
func NewSweeper(
	source InstanceSource,
	engine *Engine,
	backend Teardowner,
	recorder EventRecorder,
	clock domain.Clock,
	metrics *Metrics,
	logger *slog.Logger,
	cronExpr string,
) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cronExpr, err)
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Sweeper{
		source:   source,
		engine:   engine,
		backend:  backend,
		recorder: recorder,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		schedule: schedule,
	}, nil
}

// Start begins the sweep loop. Returns a cancel function.
func (s *Sweeper) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "lifecycle sweeper started")
		for {
			next := s.schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("lifecycle sweeper stopped")
				return
			case <-timer.C:
				s.RunOnce(ctx)
			}
		}
	}()

	return cancel
}

// RunOnce evaluates every registered instance once and performs the required
// side effects: warning notifications fire inside the engine, and instances
// that expire are torn down and removed after their lock is released.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	start := time.Now()
	now := s.clock.Now()

	var result SweepResult
	population := make(map[domain.Status]int)
	for _, inst := range s.source.All() {
		result.Checked++

		var out Outcome
		var snap domain.SandboxInstance
		err := s.source.Locked(inst.ID, func(live *domain.SandboxInstance) error {
			out = s.engine.Advance(ctx, live, now)
			snap = *live
			return nil
		})
		if err != nil {
			// Removed by a concurrent delete between All and Locked.
			continue
		}

		if out.Changed() && s.recorder != nil {
			s.recorder.LifecycleTransition(ctx, &snap, out.Previous)
		}

		switch {
		case out.Warned:
			result.Warned++
		case out.Froze:
			result.Frozen++
		case out.Expired:
			s.expire(ctx, inst.ID, snap.UserID)
			result.Deleted++
		}
		if !out.Expired {
			population[snap.Status]++
		}
	}

	if s.metrics != nil {
		s.metrics.SweepsTotal.Inc()
		s.metrics.Checked.Add(float64(result.Checked))
		s.metrics.Warned.Add(float64(result.Warned))
		s.metrics.Frozen.Add(float64(result.Frozen))
		s.metrics.Deleted.Add(float64(result.Deleted))
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		for _, status := range []domain.Status{domain.StatusActive, domain.StatusWarning, domain.StatusFrozen} {
			s.metrics.Sandboxes.WithLabelValues(string(status)).Set(float64(population[status]))
		}
	}

	if result.Warned > 0 || result.Frozen > 0 || result.Deleted > 0 {
		s.logger.InfoContext(ctx, "lifecycle sweep completed",
			slog.Int("checked", result.Checked),
			slog.Int("warned", result.Warned),
			slog.Int("frozen", result.Frozen),
			slog.Int("deleted", result.Deleted),
		)
	}
	return result
}

// expire tears down the execution environment and removes the instance.
// Teardown failures are logged and do not keep the instance registered.
func (s *Sweeper) expire(ctx context.Context, id uuid.UUID, userID string) {
	if s.backend != nil {
		if err := s.backend.Teardown(ctx, id.String()); err != nil {
			s.logger.WarnContext(ctx, "backend teardown failed",
				slog.String("sandbox_id", id.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.source.Remove(id)

	s.logger.InfoContext(ctx, "expired sandbox deleted",
		slog.String("sandbox_id", id.String()),
		slog.String("user_id", userID),
	)
}
