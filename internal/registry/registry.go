// Package registry implements the in-memory sandbox registry.
//
// The registry owns two locks: a map-level RWMutex guarding the index, and a
// per-instance mutex serializing every mutation of a single sandbox. Queries
// against different sandboxes never contend with each other; the periodic
// sweep only ever holds one instance lock at a time.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/vertical"
)

// ErrNotFound is returned when a sandbox ID is not in the registry.
var ErrNotFound = errors.New("sandbox not found")

// Catalog is the read-only vertical lookup the registry needs at creation time.
type Catalog interface {
	Has(id string) bool
}

// entry pairs an instance with its mutation lock.
type entry struct {
	mu      sync.Mutex
	inst    *domain.SandboxInstance
	removed bool // Set under mu when the entry leaves the registry.
}

// Registry maps sandbox IDs to instances and enforces the one-live-sandbox-
// per-user invariant.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*entry
	byUser map[string]uuid.UUID // Only non-expired instances are indexed here.

	catalog       Catalog
	trialDuration time.Duration
	clock         domain.Clock
	logger        *slog.Logger
}

// New creates an empty registry.
func New(catalog Catalog, trialDuration time.Duration, clock domain.Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Registry{
		byID:          make(map[uuid.UUID]*entry),
		byUser:        make(map[string]uuid.UUID),
		catalog:       catalog,
		trialDuration: trialDuration,
		clock:         clock,
		logger:        logger,
	}
}

// Create provisions a sandbox for (userID, vertical). If the user already has
// a non-expired sandbox, that instance is returned unchanged: create is
// idempotent and never resets the expiry. A zero trialOverride uses the
// configured default trial duration.
func (r *Registry) Create(userID, verticalID string, trialOverride time.Duration) (*domain.SandboxInstance, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if !r.catalog.Has(verticalID) {
		return nil, fmt.Errorf("%w: %q", vertical.ErrUnknownVertical, verticalID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byUser[userID]; ok {
		if e, ok := r.byID[id]; ok {
			e.mu.Lock()
			snap := snapshot(e.inst)
			e.mu.Unlock()
			return snap, nil
		}
	}

	duration := trialOverride
	if duration <= 0 {
		duration = r.trialDuration
	}

	now := r.clock.Now()
	inst := &domain.SandboxInstance{
		ID:        domain.NewID(),
		UserID:    userID,
		Vertical:  verticalID,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
		Status:    domain.StatusActive,
	}

	r.byID[inst.ID] = &entry{inst: inst}
	r.byUser[userID] = inst.ID

	r.logger.Info("sandbox created",
		slog.String("sandbox_id", inst.ID.String()),
		slog.String("user_id", userID),
		slog.String("vertical", verticalID),
		slog.Time("expires_at", inst.ExpiresAt),
	)
	return snapshot(inst), nil
}

// Get returns a copy of the instance with the given ID.
func (r *Registry) Get(id uuid.UUID) (*domain.SandboxInstance, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snapshot(e.inst), nil
}

// GetByUser returns a copy of the user's non-expired instance.
func (r *Registry) GetByUser(userID string) (*domain.SandboxInstance, error) {
	r.mu.RLock()
	id, ok := r.byUser[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no sandbox for user %q", ErrNotFound, userID)
	}
	return r.Get(id)
}

// Remove deletes the instance from the registry, marking it expired first.
// Idempotent: removing an absent ID is a no-op.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	e, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		if cur, ok := r.byUser[e.inst.UserID]; ok && cur == id {
			delete(r.byUser, e.inst.UserID)
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	e.mu.Lock()
	e.inst.Status = domain.StatusExpired
	e.removed = true
	e.mu.Unlock()

	r.logger.Info("sandbox removed",
		slog.String("sandbox_id", id.String()),
		slog.String("user_id", e.inst.UserID),
	)
}

// All returns copies of every registered instance, for the periodic sweep.
func (r *Registry) All() []*domain.SandboxInstance {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*domain.SandboxInstance, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, snapshot(e.inst))
		}
		e.mu.Unlock()
	}
	return out
}

// Locked runs fn with exclusive access to the live instance. Every mutation
// of sandbox state goes through here so that lifecycle evaluation, the branch
// it authorizes, and the counters it updates are a single critical section.
// fn receives the live pointer; it must not retain it.
func (r *Registry) Locked(id uuid.UUID, fn func(inst *domain.SandboxInstance) error) error {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fn(e.inst)
}

// Stats summarizes the registry for the stats endpoint.
type Stats struct {
	TotalSandboxes int
	ByStatus       map[domain.Status]int
	ByVertical     map[string]int
	TotalQueries   int
}

// Snapshot computes registry-wide statistics.
func (r *Registry) Snapshot() Stats {
	stats := Stats{
		ByStatus:   make(map[domain.Status]int),
		ByVertical: make(map[string]int),
	}
	for _, inst := range r.All() {
		stats.TotalSandboxes++
		stats.ByStatus[inst.Status]++
		stats.ByVertical[inst.Vertical]++
		stats.TotalQueries += inst.QueryCount
	}
	return stats
}

// snapshot deep-copies an instance so callers never share mutable state.
func snapshot(inst *domain.SandboxInstance) *domain.SandboxInstance {
	cp := *inst
	if inst.FrozenAt != nil {
		t := *inst.FrozenAt
		cp.FrozenAt = &t
	}
	if inst.LastQueryAt != nil {
		t := *inst.LastQueryAt
		cp.LastQueryAt = &t
	}
	if inst.CSVImports != nil {
		cp.CSVImports = make([]domain.CSVImportRecord, len(inst.CSVImports))
		copy(cp.CSVImports, inst.CSVImports)
	}
	return &cp
}

// RecordImport appends a CSV import attempt to the sandbox's import log.
func (r *Registry) RecordImport(id uuid.UUID, rec domain.CSVImportRecord) error {
	return r.Locked(id, func(inst *domain.SandboxInstance) error {
		if rec.ImportedAt.IsZero() {
			rec.ImportedAt = r.clock.Now()
		}
		inst.CSVImports = append(inst.CSVImports, rec)
		return nil
	})
}
