// Package storage implements the trial event journal using GORM.
// Two backends are provided: SQLite (default, zero-config, pure Go via
// modernc through the glebarez driver) and PostgreSQL (production). All GORM
// usage is confined to this package so domain types remain ORM-free.
//
// The journal is append-only and best-effort: a failed write is logged and
// dropped, never surfaced to the caller. Lifecycle decisions and query
// dispatch must not stall on the database.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/config"
	"github.com/ScientiaCapital/ai-development-cockpit-sub000/internal/domain"
)

// Event kinds recorded in the journal.
const (
	KindCreated    = "sandbox_created"
	KindTransition = "lifecycle_transition"
	KindQuery      = "query_dispatched"
	KindRemoved    = "sandbox_removed"
)

// TrialEvent is one journal row.
type TrialEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SandboxID  string    `gorm:"index;size:36;not null" json:"sandbox_id"`
	UserID     string    `gorm:"index;size:255" json:"user_id"`
	Vertical   string    `gorm:"size:64" json:"vertical"`
	Kind       string    `gorm:"size:32;not null" json:"kind"`
	FromStatus string    `gorm:"size:16" json:"from_status,omitempty"`
	ToStatus   string    `gorm:"size:16" json:"to_status,omitempty"`
	Agent      string    `gorm:"size:64" json:"agent,omitempty"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	Detail     string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// EventStore appends and reads trial journal events.
type EventStore struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
}

// Open connects the journal using the configured driver and runs AutoMigrate.
// Returns (nil, nil) when cfg is nil: the journal is optional.
func Open(cfg *config.StorageConfig, slogger *slog.Logger) (*EventStore, error) {
	if cfg == nil {
		return nil, nil
	}

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormCfg := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	driver := cfg.StorageDriver()
	var db *gorm.DB
	var err error
	switch driver {
	case "sqlite":
		path := cfg.SQLite.DBPath()
		if mkErr := os.MkdirAll(filepath.Dir(path), 0750); mkErr != nil {
			return nil, fmt.Errorf("creating database directory: %w", mkErr)
		}
		dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	case "postgres":
		if cfg.Postgres == nil || cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}
		gormCfg.PrepareStmt = true
		db, err = gorm.Open(postgres.Open(cfg.Postgres.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s event journal: %w", driver, err)
	}

	if driver == "postgres" {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, fmt.Errorf("getting underlying sql.DB: %w", dbErr)
		}
		sqlDB.SetMaxOpenConns(poolDefault(cfg.Postgres.MaxOpenConns, 25))
		sqlDB.SetMaxIdleConns(poolDefault(cfg.Postgres.MaxIdleConns, 5))
		sqlDB.SetConnMaxLifetime(time.Duration(poolDefault(cfg.Postgres.ConnMaxLifetimeS, 1800)) * time.Second)
	}

	if err := db.AutoMigrate(&TrialEvent{}); err != nil {
		return nil, fmt.Errorf("migrating event journal: %w", err)
	}

	return &EventStore{db: db, driver: driver, logger: slogger}, nil
}

// Driver returns the journal driver name ("sqlite" or "postgres").
func (s *EventStore) Driver() string { return s.driver }

// SandboxCreated records a new trial sandbox.
func (s *EventStore) SandboxCreated(ctx context.Context, inst *domain.SandboxInstance) {
	s.append(ctx, &TrialEvent{
		SandboxID: inst.ID.String(),
		UserID:    inst.UserID,
		Vertical:  inst.Vertical,
		Kind:      KindCreated,
		ToStatus:  string(inst.Status),
		Success:   true,
		Detail:    fmt.Sprintf("trial expires %s", inst.ExpiresAt.Format(time.RFC3339)),
	})
}

// LifecycleTransition records a status change produced by a sweep or query.
func (s *EventStore) LifecycleTransition(ctx context.Context, inst *domain.SandboxInstance, previous domain.Status) {
	s.append(ctx, &TrialEvent{
		SandboxID:  inst.ID.String(),
		UserID:     inst.UserID,
		Vertical:   inst.Vertical,
		Kind:       KindTransition,
		FromStatus: string(previous),
		ToStatus:   string(inst.Status),
		Success:    true,
	})
}

// QueryDispatched records one query outcome, including rejections.
func (s *EventStore) QueryDispatched(ctx context.Context, inst *domain.SandboxInstance, resp *domain.AgentResponse) {
	s.append(ctx, &TrialEvent{
		SandboxID:  inst.ID.String(),
		UserID:     inst.UserID,
		Vertical:   inst.Vertical,
		Kind:       KindQuery,
		ToStatus:   string(inst.Status),
		Agent:      resp.AgentUsed,
		Success:    resp.Success,
		DurationMs: resp.ExecutionTimeMs,
		TokensUsed: resp.TokensUsed,
		Detail:     resp.Error,
	})
}

// SandboxRemoved records an explicit delete or expiry removal.
func (s *EventStore) SandboxRemoved(ctx context.Context, inst *domain.SandboxInstance) {
	s.append(ctx, &TrialEvent{
		SandboxID:  inst.ID.String(),
		UserID:     inst.UserID,
		Vertical:   inst.Vertical,
		Kind:       KindRemoved,
		FromStatus: string(inst.Status),
		ToStatus:   string(domain.StatusExpired),
		Success:    true,
	})
}

// Events returns the journal for one sandbox, newest first.
func (s *EventStore) Events(ctx context.Context, sandboxID string, limit int) ([]TrialEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var events []TrialEvent
	err := s.db.WithContext(ctx).
		Where("sandbox_id = ?", sandboxID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("listing events for sandbox %s: %w", sandboxID, err)
	}
	return events, nil
}

// Close closes the underlying database connection.
func (s *EventStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *EventStore) append(ctx context.Context, ev *TrialEvent) {
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		s.logger.WarnContext(ctx, "event journal write failed",
			slog.String("sandbox_id", ev.SandboxID),
			slog.String("kind", ev.Kind),
			slog.String("error", err.Error()),
		)
	}
}

func poolDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
