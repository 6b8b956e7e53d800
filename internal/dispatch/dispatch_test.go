package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/backend"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/lifecycle"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/registry"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/selector"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/vertical"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	backend    *backend.MockBackend
	clock      *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	verticals, err := vertical.Load("")
	if err != nil {
		t.Fatalf("loading built-in catalog: %v", err)
	}

	clock := &fakeClock{now: testTime}
	logger := testLogger()
	reg := registry.New(verticals, 30*24*time.Hour, clock, logger)
	engine := lifecycle.NewEngine(lifecycle.Config{
		WarningThresholdDays: 5,
		FreezeDuration:       30 * 24 * time.Hour,
	}, nil, logger)
	mock := backend.NewMockBackend()

	d := New(Config{
		Registry:  reg,
		Verticals: verticals,
		Engine:    engine,
		Selector:  selector.New(nil),
		Backend:   mock,
		Clock:     clock,
		Logger:    logger,
	})
	return &fixture{dispatcher: d, registry: reg, backend: mock, clock: clock}
}

func (f *fixture) createSandbox(t *testing.T, userID string) *domain.SandboxInstance {
	t.Helper()
	inst, err := f.registry.Create(userID, "hvac_mep", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return inst
}

// --- Accepted queries ---

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	inst := f.createSandbox(t, "user-1")

	resp, err := f.dispatcher.Run(context.Background(), inst.ID, "schedule a technician for tomorrow", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Success = false: %+v", resp)
	}
	if resp.AgentUsed != "dispatch_scheduler" {
		t.Errorf("AgentUsed = %s, want dispatch_scheduler", resp.AgentUsed)
	}
	if !strings.Contains(resp.Response, "schedule a technician") {
		t.Errorf("Response = %q", resp.Response)
	}

	got, _ := f.registry.Get(inst.ID)
	if got.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1", got.QueryCount)
	}
	if got.LastQueryAt == nil {
		t.Error("LastQueryAt not set")
	}
}

func TestRun_ExplicitAgentHonored(t *testing.T) {
	f := newFixture(t)
	inst := f.createSandbox(t, "user-1")

	resp, err := f.dispatcher.Run(context.Background(), inst.ID, "schedule something", "quote_builder")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.AgentUsed != "quote_builder" {
		t.Errorf("AgentUsed = %s, want explicit quote_builder", resp.AgentUsed)
	}
}

func TestRun_UnknownExplicitAgentFallsBackToSelection(t *testing.T) {
	f := newFixture(t)
	inst := f.createSandbox(t, "user-1")

	resp, err := f.dispatcher.Run(context.Background(), inst.ID, "build me a quote", "no_such_agent")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.AgentUsed != "quote_builder" {
		t.Errorf("AgentUsed = %s, want keyword-selected quote_builder", resp.AgentUsed)
	}
}

func TestRun_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Run(context.Background(), domain.NewID(), "hello", "")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// --- Counter discipline ---

func TestRun_BackendFailureStillCounts(t *testing.T) {
	f := newFixture(t)
	f.backend.FailAfter(1)
	inst := f.createSandbox(t, "user-1")
	ctx := context.Background()

	if _, err := f.dispatcher.Run(ctx, inst.ID, "first query", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	resp, err := f.dispatcher.Run(ctx, inst.ID, "second query", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Success {
		t.Fatal("expected backend failure response")
	}
	if resp.Error == "" {
		t.Error("failure response missing error detail")
	}

	// Both queries were accepted and attempted, so both count.
	got, _ := f.registry.Get(inst.ID)
	if got.QueryCount != 2 {
		t.Errorf("QueryCount = %d, want 2", got.QueryCount)
	}
}

func TestRun_FrozenRejectionDoesNotCount(t *testing.T) {
	f := newFixture(t)
	inst := f.createSandbox(t, "user-1")
	ctx := context.Background()

	if _, err := f.dispatcher.Run(ctx, inst.ID, "while active", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Past expiry: the next query freezes the trial and is rejected.
	f.clock.advance(31 * 24 * time.Hour)
	resp, err := f.dispatcher.Run(ctx, inst.ID, "while frozen", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Success {
		t.Fatal("frozen trial must reject the query")
	}
	if resp.Error != ErrCodeFrozen {
		t.Errorf("Error = %s, want %s", resp.Error, ErrCodeFrozen)
	}
	if resp.Response == "" {
		t.Error("rejection must carry the advisory text")
	}

	got, _ := f.registry.Get(inst.ID)
	if got.Status != domain.StatusFrozen {
		t.Errorf("status = %s, want frozen", got.Status)
	}
	if got.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (rejections never count)", got.QueryCount)
	}

	calls := f.backend.Calls()
	if len(calls) != 1 {
		t.Errorf("backend calls = %d, want 1 (rejected query must not execute)", len(calls))
	}
}

func TestRun_ExpiredSandboxIsRemovedAndTornDown(t *testing.T) {
	f := newFixture(t)
	inst := f.createSandbox(t, "user-1")
	ctx := context.Background()

	// Freeze, then pass the dwell period.
	f.clock.advance(31 * 24 * time.Hour)
	if _, err := f.dispatcher.Run(ctx, inst.ID, "freezes here", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.clock.advance(31 * 24 * time.Hour)

	resp, err := f.dispatcher.Run(ctx, inst.ID, "expires here", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Success || resp.Error != ErrCodeExpired {
		t.Fatalf("expected expired rejection, got %+v", resp)
	}

	if !f.backend.TornDown(inst.ID.String()) {
		t.Error("expired sandbox environment not torn down")
	}
	if _, err := f.registry.Get(inst.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Error("expired sandbox still registered")
	}
}

// --- Lazy evaluation on query path ---

func TestRun_QueryTriggersWarningTransition(t *testing.T) {
	f := newFixture(t)
	inst := f.createSandbox(t, "user-1")

	// Day 27: three days remaining. No sweep has run; the query itself
	// must move the trial to warning while still executing normally.
	f.clock.advance(27 * 24 * time.Hour)
	resp, err := f.dispatcher.Run(context.Background(), inst.ID, "how are my leads converting", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success {
		t.Fatalf("warning-state query must execute: %+v", resp)
	}

	got, _ := f.registry.Get(inst.ID)
	if got.Status != domain.StatusWarning {
		t.Errorf("status = %s, want warning", got.Status)
	}
	if got.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1", got.QueryCount)
	}
}

func TestRun_ConcurrentQueriesSerializePerSandbox(t *testing.T) {
	f := newFixture(t)
	inst := f.createSandbox(t, "user-1")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.dispatcher.Run(context.Background(), inst.ID, "schedule a crew", "")
		}()
	}
	wg.Wait()

	got, _ := f.registry.Get(inst.ID)
	if got.QueryCount != n {
		t.Errorf("QueryCount = %d, want %d", got.QueryCount, n)
	}
}
