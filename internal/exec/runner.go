// Package exec runs shell commands for the bash tool behind an interface so
// the tool can be tested without spawning processes.
package exec

import (
	"context"
	"errors"
	osexec "os/exec"
	"sync"
	"time"
)

const waitDelay = 2 * time.Second

// Runner executes external commands.
type Runner interface {
	// RunInDir executes a command in dir and returns combined stdout/stderr.
	RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// OSRunner implements Runner using os/exec.
type OSRunner struct {
	// Env overrides environment variables (nil = inherit from parent)
	Env []string
}

// NewOSRunner creates a new OS-based command runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

func (r *OSRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	// Children that inherit the output pipe must not hold Wait open after
	// the context kills the shell.
	cmd.WaitDelay = waitDelay
	if r.Env != nil {
		cmd.Env = r.Env
	}
	return cmd.CombinedOutput()
}

// ExitCode extracts the process exit code from a Run error: 0 for nil, -1
// when the process did not exit normally (not started, killed by signal).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// MockRunner implements Runner for testing.
type MockRunner struct {
	mu        sync.Mutex
	calls     []MockCall
	responses map[string]MockResponse
}

// MockCall records a single command invocation.
type MockCall struct {
	Name string
	Args []string
	Dir  string
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Output []byte
	Err    error
}

func NewMockRunner() *MockRunner {
	return &MockRunner{responses: make(map[string]MockResponse)}
}

// AddResponse sets the response for the last argument of a call, which is
// the script for "sh -c" invocations.
func (m *MockRunner) AddResponse(script string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[script] = resp
}

func (m *MockRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Name: name, Args: args, Dir: dir})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := name
	if len(args) > 0 {
		key = args[len(args)-1]
	}
	resp := m.responses[key]
	return resp.Output, resp.Err
}

// Calls returns a copy of the recorded invocations.
func (m *MockRunner) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}
