package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joss/sagi/internal/exec"
	sagistrings "github.com/joss/sagi/internal/strings"
)

const (
	BashName = "bash"

	bashDefaultTimeout = 60 * time.Second
	bashMaxTimeout     = 10 * time.Minute
	bashMaxOutput      = 30000
)

// Bash runs a shell command. It is the only tool gated by the command
// safety filter.
type Bash struct {
	workDir string
	timeout time.Duration
	runner  exec.Runner
}

func NewBash(workDir string) *Bash {
	return &Bash{
		workDir: workDir,
		timeout: bashDefaultTimeout,
		runner:  exec.NewOSRunner(),
	}
}

// WithRunner replaces the process runner.
func (b *Bash) WithRunner(r exec.Runner) *Bash {
	b.runner = r
	return b
}

func (b *Bash) Name() string { return BashName }
func (b *Bash) ReadOnly() bool { return false }

func (b *Bash) Description() string {
	return "Execute a shell command in the workspace and return its combined output. Use for git, package managers and other CLI operations."
}

func (b *Bash) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Timeout in milliseconds (max 600000)",
			},
		},
		"required": []string{"command"},
	}
}

// Command extracts the command argument of a bash call.
func Command(args map[string]any) string {
	s, _ := stringArg(args, "command")
	return s
}

func (b *Bash) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	command := Command(args)
	if strings.TrimSpace(command) == "" {
		return &Result{Output: "command is required", IsError: true}, ErrInvalidArgs
	}

	timeout := b.timeout
	if t, ok := args["timeout"].(float64); ok && t > 0 {
		timeout = min(time.Duration(t)*time.Millisecond, bashMaxTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := b.runner.RunInDir(ctx, b.workDir, "sh", "-c", command)

	result := &Result{
		Title:  truncateTitle(command),
		Output: sagistrings.TruncateMiddle(string(out), bashMaxOutput),
		Metadata: map[string]any{
			"command":  command,
			"exitCode": exec.ExitCode(err),
		},
	}

	if err != nil {
		result.IsError = true
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.Output += fmt.Sprintf("\n(command timed out after %s)", timeout)
		}
	}
	return result, nil
}

func truncateTitle(s string) string {
	s = strings.Split(s, "\n")[0]
	return sagistrings.Truncate(s, 50)
}

var _ Tool = (*Bash)(nil)
