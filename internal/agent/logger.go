package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/logging"
	sagistrings "github.com/joss/sagi/internal/strings"
)

// LogLevel controls which events are logged
type LogLevel int

const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// LogEntry is a structured JSON log entry for agent operations
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Type       string    `json:"type"`
	ChatID     string    `json:"chat_id,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	Round      int       `json:"round,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`

	// LLM round details
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// Tool call details
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
	Decision   string         `json:"decision,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// AgentLogger writes one JSON line per agent event: turn boundaries, model
// rounds, permission decisions and tool calls.
type AgentLogger struct {
	mu     sync.Mutex
	level  LogLevel
	output io.Writer
}

// NewAgentLogger creates a new structured logger
func NewAgentLogger(opts ...LoggerOption) *AgentLogger {
	l := &AgentLogger{
		level:  LogLevelInfo,
		output: io.Discard, // Default: no logging
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoggerOption configures the AgentLogger
type LoggerOption func(*AgentLogger)

// WithLogLevel sets the logging level
func WithLogLevel(level LogLevel) LoggerOption {
	return func(l *AgentLogger) {
		l.level = level
	}
}

// WithLogOutput sets the output destination
func WithLogOutput(w io.Writer) LoggerOption {
	return func(l *AgentLogger) {
		l.output = w
	}
}

// WithLogFile appends to path, creating it if needed.
func WithLogFile(path string) LoggerOption {
	return func(l *AgentLogger) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "agent logger: failed to open log file: %v\n", err)
			return
		}
		l.output = f
	}
}

// ParseLogLevel maps a config string to a LogLevel. Unknown values mean info.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "off", "none":
		return LogLevelOff
	case "error":
		return LogLevelError
	case "warn", "warning":
		return LogLevelWarn
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

func (l *AgentLogger) enabled(level LogLevel) bool {
	return l != nil && l.level >= level && l.output != nil && l.output != io.Discard
}

func (l *AgentLogger) log(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = time.Now()
	if entry.Error != "" {
		entry.Error = logging.RedactText(entry.Error)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	fmt.Fprintf(l.output, "%s\n", data)
}

// TurnStart logs the beginning of a user turn.
func (l *AgentLogger) TurnStart(req domain.ChatRequest, model string) {
	if !l.enabled(LogLevelInfo) {
		return
	}
	l.log(LogEntry{
		Level:    "info",
		Type:     "turn_start",
		ChatID:   req.ChatID,
		Provider: string(req.Provider),
		Model:    model,
		Extra:    map[string]any{"mode": req.Mode, "flex": req.Flex},
	})
}

// LLMRound logs one model round with its usage.
func (l *AgentLogger) LLMRound(chatID, model string, round int, duration time.Duration, usage *domain.Usage, err error) {
	if !l.enabled(LogLevelInfo) {
		return
	}
	entry := LogEntry{
		Level:      "info",
		Type:       "llm_round",
		ChatID:     chatID,
		Model:      model,
		Round:      round,
		DurationMs: duration.Milliseconds(),
	}
	if usage != nil {
		entry.InputTokens = usage.InputTokens
		entry.OutputTokens = usage.OutputTokens
	}
	if err != nil {
		entry.Level = "error"
		entry.Error = err.Error()
	}
	l.log(entry)
}

// Permission logs how a tool call was classified.
func (l *AgentLogger) Permission(chatID, toolName string, d domain.Decision) {
	if !l.enabled(LogLevelDebug) && !(d.Blocked && l.enabled(LogLevelWarn)) {
		return
	}
	decision := "denied"
	switch {
	case d.Allowed:
		decision = "allowed"
	case d.Blocked:
		decision = "blocked"
	case d.RequiresConfirmation:
		decision = "ask"
	}
	level := "debug"
	if d.Blocked {
		level = "warn"
	}
	l.log(LogEntry{
		Level:    level,
		Type:     "permission",
		ChatID:   chatID,
		ToolName: toolName,
		Decision: decision,
		Extra:    map[string]any{"reason": d.Reason},
	})
}

// ToolCall logs a tool execution
func (l *AgentLogger) ToolCall(chatID, toolName string, args map[string]any, duration time.Duration, result string, err error) {
	if !l.enabled(LogLevelInfo) {
		return
	}
	entry := LogEntry{
		Level:      "info",
		Type:       "tool_call",
		ChatID:     chatID,
		ToolName:   toolName,
		ToolArgs:   sanitizeArgs(args),
		DurationMs: duration.Milliseconds(),
		ToolResult: sagistrings.Truncate(result, 500),
	}
	if err != nil {
		entry.Level = "error"
		entry.Error = err.Error()
	}
	l.log(entry)
}

// TurnEnd logs how a turn finished and its total usage.
func (l *AgentLogger) TurnEnd(chatID, outcome string, rounds int, usage domain.Usage, duration time.Duration) {
	if !l.enabled(LogLevelInfo) {
		return
	}
	l.log(LogEntry{
		Level:        "info",
		Type:         "turn_end",
		ChatID:       chatID,
		Round:        rounds,
		DurationMs:   duration.Milliseconds(),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Extra:        map[string]any{"outcome": outcome},
	})
}

// sanitizeArgs masks secrets and shortens long text fields.
func sanitizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	safe := logging.RedactMap(args)
	for _, k := range []string{"content", "text", "body"} {
		if s, ok := safe[k].(string); ok {
			safe[k] = sagistrings.Truncate(s, 200)
		}
	}
	return safe
}
