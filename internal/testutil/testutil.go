// Package testutil provides common test helpers and utilities.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/storage"
	"github.com/joss/sagi/internal/tool"
	"github.com/joss/sagi/pkg/llm"
)

// MockProvider replays scripted rounds. A round that does not end in a
// terminal event blocks until the caller cancels, like a stalled upstream.
type MockProvider struct {
	id        domain.ProviderID
	responses [][]domain.StreamEvent
	requests  []llm.ChatRequest
	mu        sync.Mutex
}

func NewMockProvider(responses ...[]domain.StreamEvent) *MockProvider {
	return &MockProvider{id: domain.ProviderOpenAI, responses: responses}
}

// WithID registers the mock under another provider id.
func (m *MockProvider) WithID(id domain.ProviderID) *MockProvider {
	m.id = id
	return m
}

func (m *MockProvider) ID() domain.ProviderID { return m.id }
func (m *MockProvider) Name() string          { return "Mock" }
func (m *MockProvider) DefaultModel() string  { return "mock-model" }

func (m *MockProvider) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	if req.APIKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	m.mu.Lock()
	idx := len(m.requests)
	cp := *req
	cp.Messages = append([]domain.Message{}, req.Messages...)
	m.requests = append(m.requests, cp)
	m.mu.Unlock()

	var script []domain.StreamEvent
	if idx < len(m.responses) {
		script = m.responses[idx]
	} else {
		script = []domain.StreamEvent{domain.Failure(fmt.Sprintf("mock: no response scripted for call %d", idx+1))}
	}

	events := make(chan domain.StreamEvent, len(script)+1)
	go func() {
		defer close(events)
		for _, ev := range script {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if len(script) == 0 || !script[len(script)-1].IsTerminal() {
			<-ctx.Done()
		}
	}()
	return events, nil
}

// CallCount returns how many rounds were requested.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the i-th recorded request.
func (m *MockProvider) Request(i int) llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

// MockTool is a simple tool for testing.
type MockTool struct {
	ToolName   string
	ToolResult string
	IsReadOnly bool
	Delay      time.Duration
	OnExecute  func(args map[string]any)

	mu    sync.Mutex
	calls int
}

func NewMockTool(name string) *MockTool {
	return &MockTool{ToolName: name}
}

func (m *MockTool) WithResult(result string) *MockTool {
	m.ToolResult = result
	return m
}

func (m *MockTool) WithReadOnly() *MockTool {
	m.IsReadOnly = true
	return m
}

func (m *MockTool) WithDelay(d time.Duration) *MockTool {
	m.Delay = d
	return m
}

func (m *MockTool) WithCallback(fn func(args map[string]any)) *MockTool {
	m.OnExecute = fn
	return m
}

func (m *MockTool) Name() string        { return m.ToolName }
func (m *MockTool) Description() string { return "Mock tool for testing" }
func (m *MockTool) ReadOnly() bool      { return m.IsReadOnly }

func (m *MockTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	}
}

func (m *MockTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.OnExecute != nil {
		m.OnExecute(args)
	}

	if m.ToolResult != "" {
		return &tool.Result{Output: m.ToolResult}, nil
	}

	msg, _ := args["message"].(string)
	return &tool.Result{Output: msg}, nil
}

// Calls returns how often Execute ran.
func (m *MockTool) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// TextResponse creates a simple text round.
func TextResponse(text string) []domain.StreamEvent {
	return []domain.StreamEvent{
		domain.TextDelta(text),
		domain.TextDone(text),
		domain.Finish(&domain.Usage{InputTokens: 10, OutputTokens: 5}),
	}
}

// ToolCallResponse creates a round that calls one tool.
func ToolCallResponse(toolID, name string, args map[string]any) []domain.StreamEvent {
	return []domain.StreamEvent{
		domain.ToolCallStart(toolID, name),
		domain.ToolCallDone(toolID, name, args),
		domain.Finish(&domain.Usage{InputTokens: 20, OutputTokens: 8}),
	}
}

// ErrorResponse creates a round that fails.
func ErrorResponse(msg string) []domain.StreamEvent {
	return []domain.StreamEvent{domain.Failure(msg)}
}

// StalledResponse emits events then waits for cancellation.
func StalledResponse(events ...domain.StreamEvent) []domain.StreamEvent {
	return append([]domain.StreamEvent{}, events...)
}

// Collect drains ch, failing the test if it stays open past timeout.
func Collect(t *testing.T, ch <-chan domain.StreamEvent, timeout time.Duration) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("stream still open after %s (%d events)", timeout, len(events))
			return nil
		}
	}
}

// Types lists the event types in order.
func Types(events []domain.StreamEvent) []domain.StreamEventType {
	out := make([]domain.StreamEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// SSE joins data payloads into a server-sent-events body.
func SSE(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: " + p + "\n\n")
	}
	return b.String()
}

// NewStore opens a SQLite store in a temp dir closed at test end.
func NewStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
