package exec

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestOSRunnerRunInDir(t *testing.T) {
	dir := t.TempDir()
	out, err := NewOSRunner().RunInDir(context.Background(), dir, "sh", "-c", "pwd; echo err >&2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), "err") {
		t.Errorf("stderr not captured: %q", out)
	}
	if ExitCode(err) != 0 {
		t.Errorf("ExitCode(nil) = %d", ExitCode(err))
	}
}

func TestExitCode(t *testing.T) {
	_, err := NewOSRunner().RunInDir(context.Background(), "", "sh", "-c", "exit 3")
	if got := ExitCode(err); got != 3 {
		t.Errorf("ExitCode = %d, want 3", got)
	}
	if got := ExitCode(errors.New("not started")); got != -1 {
		t.Errorf("ExitCode(other) = %d, want -1", got)
	}
}

func TestOSRunnerEnv(t *testing.T) {
	r := &OSRunner{Env: []string{"SAGI_TEST=42"}}
	out, err := r.RunInDir(context.Background(), "", "sh", "-c", "echo $SAGI_TEST")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(string(out)) != "42" {
		t.Errorf("output = %q", out)
	}
}

func TestMockRunner(t *testing.T) {
	m := NewMockRunner()
	m.AddResponse("git status", MockResponse{Output: []byte("clean")})

	out, err := m.RunInDir(context.Background(), "/work", "sh", "-c", "git status")
	if err != nil || string(out) != "clean" {
		t.Fatalf("RunInDir = %q, %v", out, err)
	}

	calls := m.Calls()
	if len(calls) != 1 || calls[0].Dir != "/work" || calls[0].Name != "sh" {
		t.Errorf("calls = %+v", calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.RunInDir(ctx, "", "sh", "-c", "git status"); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx: err = %v", err)
	}
}
