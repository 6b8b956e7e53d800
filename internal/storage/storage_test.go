package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/config"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *EventStore {
	t.Helper()
	store, err := Open(&config.StorageConfig{
		Driver: "sqlite",
		SQLite: &config.SQLiteStorageConfig{Path: filepath.Join(t.TempDir(), "trial.db")},
	}, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testInstance() *domain.SandboxInstance {
	return &domain.SandboxInstance{
		ID:        domain.NewID(),
		UserID:    "user-1",
		Vertical:  "hvac_mep",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(30 * 24 * time.Hour),
		Status:    domain.StatusActive,
	}
}

func TestOpen_NilConfigDisablesJournal(t *testing.T) {
	store, err := Open(nil, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store != nil {
		t.Fatal("nil config must disable the journal")
	}
}

func TestOpen_PostgresRequiresDSN(t *testing.T) {
	_, err := Open(&config.StorageConfig{Driver: "postgres"}, testLogger())
	if err == nil {
		t.Fatal("expected DSN requirement error")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(&config.StorageConfig{Driver: "mysql"}, testLogger())
	if err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestJournal_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	inst := testInstance()

	store.SandboxCreated(ctx, inst)

	prev := inst.Status
	inst.Status = domain.StatusWarning
	store.LifecycleTransition(ctx, inst, prev)

	store.QueryDispatched(ctx, inst, &domain.AgentResponse{
		Query:           "list open work orders",
		AgentUsed:       "general",
		ExecutionTimeMs: 42,
		TokensUsed:      17,
		Success:         true,
	})

	events, err := store.Events(ctx, inst.ID.String(), 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	// Newest first.
	if events[0].Kind != KindQuery {
		t.Errorf("events[0].Kind = %s", events[0].Kind)
	}
	if events[0].Agent != "general" || events[0].TokensUsed != 17 || !events[0].Success {
		t.Errorf("query event = %+v", events[0])
	}
	if events[1].Kind != KindTransition {
		t.Errorf("events[1].Kind = %s", events[1].Kind)
	}
	if events[1].FromStatus != "active" || events[1].ToStatus != "warning" {
		t.Errorf("transition event = %+v", events[1])
	}
	if events[2].Kind != KindCreated {
		t.Errorf("events[2].Kind = %s", events[2].Kind)
	}
}

func TestJournal_RejectionRecordsErrorCode(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	inst := testInstance()
	inst.Status = domain.StatusFrozen

	store.QueryDispatched(ctx, inst, &domain.AgentResponse{
		Query:   "anything",
		Success: false,
		Error:   "sandbox_frozen",
	})

	events, err := store.Events(ctx, inst.ID.String(), 10)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Success {
		t.Error("rejection recorded as success")
	}
	if events[0].Detail != "sandbox_frozen" {
		t.Errorf("Detail = %s", events[0].Detail)
	}
	if events[0].ToStatus != "frozen" {
		t.Errorf("ToStatus = %s", events[0].ToStatus)
	}
}

func TestEvents_ScopedToSandbox(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	a := testInstance()
	b := testInstance()

	store.SandboxCreated(ctx, a)
	store.SandboxCreated(ctx, b)
	store.SandboxRemoved(ctx, a)

	events, err := store.Events(ctx, a.ID.String(), 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events for sandbox a, want 2", len(events))
	}
	for _, ev := range events {
		if ev.SandboxID != a.ID.String() {
			t.Errorf("foreign event leaked: %+v", ev)
		}
	}
}

func TestEvents_LimitClamp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	inst := testInstance()

	for i := 0; i < 5; i++ {
		store.SandboxCreated(ctx, inst)
	}

	events, err := store.Events(ctx, inst.ID.String(), 2)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want limit of 2", len(events))
	}
}
