package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/registry"
)

// fakeClock is a settable clock shared by the registry and the sweeper.
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

type fakeCatalog struct{}

func (fakeCatalog) Has(string) bool { return true }

// fakeTeardowner records which sandboxes were torn down.
type fakeTeardowner struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeTeardowner) Teardown(_ context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, sandboxID)
	return nil
}

func (f *fakeTeardowner) tornDown() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

// transitionRecorder captures lifecycle transitions handed to the journal.
type transitionRecorder struct {
	mu          sync.Mutex
	transitions []string
}

func (r *transitionRecorder) LifecycleTransition(_ context.Context, inst *domain.SandboxInstance, previous domain.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, string(previous)+"->"+string(inst.Status))
}

func (r *transitionRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

func newSweepFixture(t *testing.T) (*Sweeper, *registry.Registry, *fakeClock, *fakeTeardowner, *transitionRecorder) {
	t.Helper()
	clock := &fakeClock{now: testTime}
	reg := registry.New(fakeCatalog{}, 30*24*time.Hour, clock, testLogger())
	engine := newTestEngine(nil)
	backend := &fakeTeardowner{}
	recorder := &transitionRecorder{}

	sweeper, err := NewSweeper(reg, engine, backend, recorder, clock, nil, testLogger(), "0 * * * *")
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	return sweeper, reg, clock, backend, recorder
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	_, err := NewSweeper(nil, newTestEngine(nil), nil, nil, nil, nil, testLogger(), "not a cron expr")
	if err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestSweep_EmptyRegistry(t *testing.T) {
	sweeper, _, _, _, _ := newSweepFixture(t)

	result := sweeper.RunOnce(context.Background())
	if result.Checked != 0 || result.Warned != 0 || result.Frozen != 0 || result.Deleted != 0 {
		t.Errorf("empty sweep result = %+v, want zeros", result)
	}
}

func TestSweep_MidTrialNoTransitions(t *testing.T) {
	sweeper, reg, _, _, recorder := newSweepFixture(t)
	if _, err := reg.Create("user-1", "hvac_mep", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := sweeper.RunOnce(context.Background())
	if result.Checked != 1 {
		t.Errorf("Checked = %d, want 1", result.Checked)
	}
	if result.Warned+result.Frozen+result.Deleted != 0 {
		t.Errorf("mid-trial sweep caused transitions: %+v", result)
	}
	if len(recorder.all()) != 0 {
		t.Errorf("recorder saw transitions: %v", recorder.all())
	}
}

func TestSweep_FullLifecycle(t *testing.T) {
	sweeper, reg, clock, backend, recorder := newSweepFixture(t)
	ctx := context.Background()

	inst, err := reg.Create("user-1", "hvac_mep", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Day 26: four days remaining, inside the warning window.
	clock.advance(26 * 24 * time.Hour)
	result := sweeper.RunOnce(ctx)
	if result.Warned != 1 {
		t.Fatalf("day 26: Warned = %d, want 1", result.Warned)
	}
	got, _ := reg.Get(inst.ID)
	if got.Status != domain.StatusWarning {
		t.Fatalf("day 26: status = %s, want warning", got.Status)
	}

	// Repeat sweeps in the window are no-ops.
	result = sweeper.RunOnce(ctx)
	if result.Warned != 0 {
		t.Fatalf("repeat sweep re-warned: %+v", result)
	}

	// Day 31: past expiry, the trial freezes.
	clock.advance(5 * 24 * time.Hour)
	result = sweeper.RunOnce(ctx)
	if result.Frozen != 1 {
		t.Fatalf("day 31: Frozen = %d, want 1", result.Frozen)
	}
	got, _ = reg.Get(inst.ID)
	if got.Status != domain.StatusFrozen {
		t.Fatalf("day 31: status = %s, want frozen", got.Status)
	}
	if len(backend.tornDown()) != 0 {
		t.Fatal("freeze must not tear down the environment")
	}

	// Day 62: frozen past the 30 day dwell, deleted.
	clock.advance(31 * 24 * time.Hour)
	result = sweeper.RunOnce(ctx)
	if result.Deleted != 1 {
		t.Fatalf("day 62: Deleted = %d, want 1", result.Deleted)
	}
	if _, err := reg.Get(inst.ID); err == nil {
		t.Fatal("expired sandbox still registered")
	}
	torn := backend.tornDown()
	if len(torn) != 1 || torn[0] != inst.ID.String() {
		t.Errorf("teardown ids = %v, want [%s]", torn, inst.ID)
	}

	want := []string{"active->warning", "warning->frozen", "frozen->expired"}
	transitions := recorder.all()
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestSweep_ShortTrialSkipsStraightToFrozen(t *testing.T) {
	// A trial that was never swept during its warning window freezes on the
	// first sweep after expiry; warning is skipped, not queued.
	sweeper, reg, clock, _, recorder := newSweepFixture(t)

	inst, err := reg.Create("user-2", "solar", 24*time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock.advance(48 * time.Hour)
	result := sweeper.RunOnce(context.Background())
	if result.Frozen != 1 || result.Warned != 0 {
		t.Fatalf("result = %+v, want one freeze and no warnings", result)
	}
	got, _ := reg.Get(inst.ID)
	if got.Status != domain.StatusFrozen {
		t.Fatalf("status = %s, want frozen", got.Status)
	}

	transitions := recorder.all()
	if len(transitions) != 1 || transitions[0] != "active->frozen" {
		t.Errorf("transitions = %v, want [active->frozen]", transitions)
	}
}

func TestSweep_IndependentInstances(t *testing.T) {
	sweeper, reg, clock, _, _ := newSweepFixture(t)

	fresh, err := reg.Create("user-fresh", "hvac_mep", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stale, err := reg.Create("user-stale", "roofing", 24*time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock.advance(48 * time.Hour)
	result := sweeper.RunOnce(context.Background())
	if result.Checked != 2 || result.Frozen != 1 {
		t.Fatalf("result = %+v, want 2 checked and 1 frozen", result)
	}

	gotFresh, _ := reg.Get(fresh.ID)
	if gotFresh.Status != domain.StatusActive {
		t.Errorf("fresh trial status = %s, want active", gotFresh.Status)
	}
	gotStale, _ := reg.Get(stale.ID)
	if gotStale.Status != domain.StatusFrozen {
		t.Errorf("stale trial status = %s, want frozen", gotStale.Status)
	}
}
