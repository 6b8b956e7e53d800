package backend

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBackend is the configuration-selected stand-in for the real runner,
// used in tests and offline development. It answers every prompt with a
// canned response and remembers which sandboxes were torn down.
type MockBackend struct {
	mu        sync.Mutex
	calls     []ExecutionRequest
	tornDown  map[string]bool
	respond   func(req ExecutionRequest) (*ExecutionResult, error)
	latency   time.Duration
	failAfter int // Fail calls once this many have succeeded. 0 = never fail.
}

// NewMockBackend creates a mock backend with a default canned response.
func NewMockBackend() *MockBackend {
	return &MockBackend{tornDown: make(map[string]bool)}
}

// WithResponder overrides the canned response.
func (m *MockBackend) WithResponder(fn func(req ExecutionRequest) (*ExecutionResult, error)) *MockBackend {
	m.respond = fn
	return m
}

// WithLatency makes each Execute call take at least d, honoring the context.
func (m *MockBackend) WithLatency(d time.Duration) *MockBackend {
	m.latency = d
	return m
}

// FailAfter makes Execute fail once n calls have succeeded.
func (m *MockBackend) FailAfter(n int) *MockBackend {
	m.failAfter = n
	return m
}

func (m *MockBackend) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.latency):
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	n := len(m.calls)
	m.mu.Unlock()

	if m.failAfter > 0 && n > m.failAfter {
		return nil, fmt.Errorf("mock backend failure on call %d", n)
	}
	if m.respond != nil {
		return m.respond(req)
	}

	return &ExecutionResult{
		Stdout:     fmt.Sprintf("[%s] mock response for: %s", req.Agent, req.Prompt),
		TokensUsed: estimateTokens(req.Prompt, ""),
		Duration:   m.latency,
	}, nil
}

func (m *MockBackend) Teardown(_ context.Context, sandboxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tornDown[sandboxID] = true
	return nil
}

// Calls returns a copy of every execution request seen so far.
func (m *MockBackend) Calls() []ExecutionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecutionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// TornDown reports whether Teardown was called for the sandbox.
func (m *MockBackend) TornDown(sandboxID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tornDown[sandboxID]
}

var _ Backend = (*MockBackend)(nil)
