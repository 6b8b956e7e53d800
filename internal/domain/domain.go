// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the trial lifecycle state of a sandbox.
// Transitions are monotonic: Active -> Warning -> Frozen -> Expired.
// Only the lifecycle engine moves a sandbox between states.
type Status string

const (
	StatusActive  Status = "active"
	StatusWarning Status = "warning"
	StatusFrozen  Status = "frozen"
	StatusExpired Status = "expired"
)

// Rank returns the position of the status in the lifecycle ordering.
// Used to enforce that transitions never move backward.
func (s Status) Rank() int {
	switch s {
	case StatusActive:
		return 0
	case StatusWarning:
		return 1
	case StatusFrozen:
		return 2
	case StatusExpired:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s == StatusExpired }

// SandboxInstance is one per-user, per-vertical trial sandbox.
// ID, UserID, Vertical, CreatedAt, and ExpiresAt are immutable after creation.
// Status and FrozenAt are mutated only by the lifecycle engine; QueryCount and
// LastQueryAt only by the query dispatcher. All mutation happens under the
// per-instance lock owned by the registry.
type SandboxInstance struct {
	ID        uuid.UUID
	UserID    string
	Vertical  string
	CreatedAt time.Time
	ExpiresAt time.Time // CreatedAt + trial duration. Never recomputed.
	FrozenAt  *time.Time
	Status    Status

	QueryCount  int
	LastQueryAt *time.Time

	// CSVImports is an append-only log of import attempts against this
	// sandbox. The runtime only records entries; parsing is external.
	CSVImports []CSVImportRecord
}

// CSVImportRecord is one entry in the sandbox's import attempt log.
type CSVImportRecord struct {
	Filename   string
	RowCount   int
	Success    bool
	Error      string
	ImportedAt time.Time
}

// VerticalConfig describes one business vertical: its display name, database
// schema surface, the agents available to it, and canned sample queries.
// Loaded once at startup and never mutated.
type VerticalConfig struct {
	ID            string        `yaml:"id"`
	DisplayName   string        `yaml:"display_name"`
	Schema        SchemaConfig  `yaml:"schema"`
	Agents        []AgentConfig `yaml:"agents"` // Declaration order is the fallback selection order.
	SampleQueries []string      `yaml:"sample_queries"`
}

// SchemaConfig lists the tables and views provisioned for a vertical.
type SchemaConfig struct {
	Tables []string `yaml:"tables"`
	Views  []string `yaml:"views"`
}

// AgentConfig is one named capability handler available to a vertical.
type AgentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Agent returns the agent with the given name, if the vertical has it.
func (v *VerticalConfig) Agent(name string) (AgentConfig, bool) {
	for _, a := range v.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// AgentNames returns the agent names in declaration order.
func (v *VerticalConfig) AgentNames() []string {
	names := make([]string, len(v.Agents))
	for i, a := range v.Agents {
		names[i] = a.Name
	}
	return names
}

// AgentResponse is the structured result of one dispatched query.
// Business-state rejections (frozen, expired) and backend failures are
// reported here with Success=false, never as Go errors.
type AgentResponse struct {
	Query           string `json:"query"`
	Response        string `json:"response"`
	AgentUsed       string `json:"agent_used,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	TokensUsed      int    `json:"tokens_used"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
}

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}
