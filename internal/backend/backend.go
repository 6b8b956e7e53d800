// Package backend provides the isolated execution service that answers
// sandbox queries. The runtime treats the runner as opaque: it hands over a
// prompt, captures textual output and a token count, and nothing else.
// Implementations are selected by configuration, never by probing at runtime.
package backend

import (
	"context"
	"time"
)

// Backend executes a query prompt inside a sandbox's isolated environment.
type Backend interface {
	// Execute runs the prompt and captures its output. The context carries
	// the per-query deadline; implementations must honor it.
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)

	// Teardown releases everything the backend holds for a sandbox.
	// Idempotent: tearing down an unknown sandbox is a no-op.
	Teardown(ctx context.Context, sandboxID string) error
}

// ExecutionRequest defines one query execution.
type ExecutionRequest struct {
	// SandboxID scopes the execution to one sandbox's working environment.
	SandboxID string

	// Prompt is the code-or-prompt payload handed to the runner on stdin.
	Prompt string

	// Agent is the selected agent name, exported to the runner environment.
	Agent string

	// Timeout overrides the backend default. Zero = use default.
	Timeout time.Duration
}

// ExecutionResult captures the outcome of an execution.
type ExecutionResult struct {
	Stdout     string
	TokensUsed int
	Duration   time.Duration
}
