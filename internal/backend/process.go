package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps stdout/stderr to prevent OOM from chatty runners.
	maxOutputBytes = 1 << 20 // 1 MB

	defaultTimeout    = 60 * time.Second
	defaultCPUSeconds = 60
	defaultMemoryMB   = 512
)

// ProcessConfig configures the process-based backend.
type ProcessConfig struct {
	// Runner is the argv of the runner program. The prompt is written to
	// its stdin; its stdout is the response.
	Runner []string

	// WorkRoot is the directory under which per-sandbox working
	// directories live. Empty = a fresh temp directory.
	WorkRoot string

	DefaultTimeout time.Duration
	MaxCPUSeconds  int // ulimit -t
	MaxMemoryMB    int // ulimit -v
}

// ProcessBackend runs the query runner as an isolated OS process.
//
// Isolation guarantees:
//   - Each sandbox gets its own working directory under WorkRoot,
//     removed on teardown
//   - The runner runs in its own process group and the whole group is
//     killed on timeout or cancel
//   - No environment inheritance from the host, only a minimal safe set
//   - CPU and memory limits enforced via ulimit
//   - stdout/stderr capped to prevent OOM
type ProcessBackend struct {
	runner   []string
	workRoot string
	timeout  time.Duration
	cpuSec   int
	memMB    int
	logger   *slog.Logger
}

// NewProcessBackend creates a process-based backend.
func NewProcessBackend(cfg ProcessConfig, logger *slog.Logger) (*ProcessBackend, error) {
	if len(cfg.Runner) == 0 {
		return nil, fmt.Errorf("runner command is required")
	}

	workRoot := cfg.WorkRoot
	if workRoot == "" {
		dir, err := os.MkdirTemp("", "cockpit-sandboxes-*")
		if err != nil {
			return nil, fmt.Errorf("creating sandbox work root: %w", err)
		}
		workRoot = dir
	} else if err := os.MkdirAll(workRoot, 0750); err != nil {
		return nil, fmt.Errorf("creating sandbox work root %s: %w", workRoot, err)
	}

	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	cpuSec := cfg.MaxCPUSeconds
	if cpuSec == 0 {
		cpuSec = defaultCPUSeconds
	}
	memMB := cfg.MaxMemoryMB
	if memMB == 0 {
		memMB = defaultMemoryMB
	}

	return &ProcessBackend{
		runner:   cfg.Runner,
		workRoot: workRoot,
		timeout:  timeout,
		cpuSec:   cpuSec,
		memMB:    memMB,
		logger:   logger,
	}, nil
}

// Execute runs the prompt through the runner inside the sandbox's directory.
func (b *ProcessBackend) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if req.SandboxID == "" {
		return nil, fmt.Errorf("sandbox ID is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("empty prompt")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = b.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir, err := b.sandboxDir(req.SandboxID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return nil, fmt.Errorf("creating sandbox dir: %w", err)
	}

	// The runner is wrapped so resource limits apply before exec:
	// sh -c 'ulimit -v KB; ulimit -t SEC; exec "$@"' _ runner args...
	// Positional parameters keep the runner argv out of the shell string.
	memKB := b.memMB * 1024
	shellScript := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		memKB, b.cpuSec,
	)
	args := make([]string, 0, 3+len(b.runner))
	args = append(args, "-c", shellScript, "_")
	args = append(args, b.runner...)

	cmd := exec.CommandContext(ctx, "/bin/sh", args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(req.Prompt)

	// Process group isolation: the whole group dies on timeout/cancel.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	cmd.Env = b.buildEnv(workDir, req)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	b.logger.InfoContext(ctx, "backend executing",
		slog.String("sandbox_id", req.SandboxID),
		slog.String("agent", req.Agent),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil {
		if ctx.Err() != nil {
			b.logger.WarnContext(ctx, "backend execution timed out",
				slog.String("sandbox_id", req.SandboxID),
				slog.Duration("timeout", timeout),
			)
			return nil, fmt.Errorf("execution timed out after %s", timeout)
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			detail := strings.TrimSpace(stderrBuf.String())
			if detail == "" {
				detail = strings.TrimSpace(stdoutBuf.String())
			}
			return nil, fmt.Errorf("runner exited with code %d: %s", exitErr.ExitCode(), detail)
		}
		return nil, fmt.Errorf("execution failed: %w", runErr)
	}

	stdout := stdoutBuf.String()

	b.logger.InfoContext(ctx, "backend execution completed",
		slog.String("sandbox_id", req.SandboxID),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", len(stdout)),
	)

	return &ExecutionResult{
		Stdout:     stdout,
		TokensUsed: estimateTokens(req.Prompt, stdout),
		Duration:   duration,
	}, nil
}

// Teardown removes the sandbox's working directory. Idempotent.
func (b *ProcessBackend) Teardown(ctx context.Context, sandboxID string) error {
	dir, err := b.sandboxDir(sandboxID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing sandbox dir %s: %w", dir, err)
	}
	b.logger.InfoContext(ctx, "backend environment removed",
		slog.String("sandbox_id", sandboxID),
	)
	return nil
}

// sandboxDir resolves the sandbox working directory and rejects IDs that
// would escape the work root.
func (b *ProcessBackend) sandboxDir(sandboxID string) (string, error) {
	if strings.ContainsAny(sandboxID, "/\\") || sandboxID == "." || sandboxID == ".." {
		return "", fmt.Errorf("invalid sandbox ID %q", sandboxID)
	}
	return filepath.Join(b.workRoot, sandboxID), nil
}

// buildEnv constructs a minimal, safe environment. The host environment is
// never inherited, so credentials cannot leak into the runner.
func (b *ProcessBackend) buildEnv(workDir string, req ExecutionRequest) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
		"COCKPIT_SANDBOX_ID=" + req.SandboxID,
		"COCKPIT_AGENT=" + req.Agent,
	}
}

// estimateTokens approximates token usage from payload size. The runner is
// opaque and reports no usage channel, so four bytes per token is assumed.
func estimateTokens(prompt, stdout string) int {
	return (len(prompt) + len(stdout) + 3) / 4
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > lw.remaining {
		keep = keep[:lw.remaining]
	}
	n, err := lw.w.Write(keep)
	lw.remaining -= n
	if err != nil {
		return n, err
	}
	// Report full consumption so io.Copy inside os/exec keeps draining the
	// pipe after the cap is reached.
	return len(p), nil
}

var _ Backend = (*ProcessBackend)(nil)
