package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/metrics"
	"github.com/joss/sagi/internal/permission"
	"github.com/joss/sagi/internal/testutil"
	"github.com/joss/sagi/internal/tool"
	"github.com/joss/sagi/pkg/llm"
)

type fixture struct {
	orch    *Orchestrator
	store   *permission.Store
	metrics *metrics.Metrics
	echo    *testutil.MockTool
}

func newFixture(t *testing.T, provider *testutil.MockProvider, mode domain.PermissionMode, opts ...Option) *fixture {
	t.Helper()
	store := permission.NewStore(permission.WithDefaultMode(mode))
	t.Cleanup(store.Close)

	echo := testutil.NewMockTool("echo")
	tools := tool.NewRegistry(
		echo,
		testutil.NewMockTool("list_things").WithReadOnly().WithResult("a, b"),
		tool.NewBash(t.TempDir()),
	)
	m := metrics.New()
	opts = append([]Option{WithMetrics(m)}, opts...)
	orch := New(llm.NewRegistry(provider), tools, permission.NewClassifier(store), opts...)
	return &fixture{orch: orch, store: store, metrics: m, echo: echo}
}

func chatRequest(prompt string) domain.ChatRequest {
	return domain.ChatRequest{
		ChatID:   "chat-1",
		Prompt:   prompt,
		Provider: domain.ProviderOpenAI,
		APIKey:   "k",
	}
}

func run(t *testing.T, f *fixture, req domain.ChatRequest) []domain.StreamEvent {
	t.Helper()
	events, err := f.orch.Run(context.Background(), req)
	require.NoError(t, err)
	return testutil.Collect(t, events, 5*time.Second)
}

func findEvent(events []domain.StreamEvent, typ domain.StreamEventType) *domain.StreamEvent {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}

func TestRunTextOnly(t *testing.T) {
	provider := testutil.NewMockProvider(testutil.TextResponse("Hello world!"))
	f := newFixture(t, provider, domain.ModeAsk)

	events := run(t, f, chatRequest("hi"))

	assert.Equal(t, []domain.StreamEventType{
		domain.EventTextDelta, domain.EventTextDone, domain.EventFinish,
	}, testutil.Types(events))
	require.NotNil(t, events[2].Usage)
	assert.Equal(t, domain.Usage{InputTokens: 10, OutputTokens: 5}, *events[2].Usage)

	req := provider.Request(0)
	assert.Equal(t, "mock-model", req.Model)
	assert.Contains(t, req.SystemPrompt, "agent mode")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hi", req.Messages[0].Content)
	assert.Equal(t, int64(1), f.metrics.StreamsFinished.Load())
}

func TestRunToolRoundAllowAll(t *testing.T) {
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "echo", map[string]any{"message": "pong"}),
		testutil.TextResponse("done"),
	)
	f := newFixture(t, provider, domain.ModeAllowAll)

	events := run(t, f, chatRequest("ping"))

	assert.Equal(t, []domain.StreamEventType{
		domain.EventToolCallStart, domain.EventToolCallDone, domain.EventToolResult,
		domain.EventTextDelta, domain.EventTextDone, domain.EventFinish,
	}, testutil.Types(events))

	result := events[2].Result.(*tool.Result)
	assert.Equal(t, "pong", result.Output)
	assert.False(t, result.IsError)

	last := events[len(events)-1]
	assert.Equal(t, domain.Usage{InputTokens: 30, OutputTokens: 13}, *last.Usage)

	require.Equal(t, 2, provider.CallCount())
	second := provider.Request(1).Messages
	require.Len(t, second, 3)
	assert.Equal(t, domain.RoleAssistant, second[1].Role)
	assert.Equal(t, "echo", second[1].ToolCalls[0].Name)
	assert.Equal(t, domain.RoleTool, second[2].Role)
	assert.Equal(t, "call-1", second[2].ToolCallID)
	assert.Equal(t, "pong", second[2].Content)
	assert.Equal(t, int64(1), f.metrics.ToolCalls.Load())
}

func TestRunAskModeApproved(t *testing.T) {
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "bash", map[string]any{"command": "echo approved"}),
		testutil.TextResponse("ok"),
	)
	f := newFixture(t, provider, domain.ModeAsk)

	events, err := f.orch.Run(context.Background(), chatRequest("run it"))
	require.NoError(t, err)

	var got []domain.StreamEvent
	for ev := range events {
		got = append(got, ev)
		if ev.Type == domain.EventPermissionRequest {
			assert.Equal(t, "echo approved", ev.Permission.Command)
			assert.Equal(t, "chat-1", ev.Permission.SessionID)
			f.store.Approve(ev.Permission.SessionID, ev.Permission.Command)
		}
	}

	assert.Equal(t, []domain.StreamEventType{
		domain.EventToolCallStart, domain.EventToolCallDone, domain.EventPermissionRequest,
		domain.EventToolResult, domain.EventTextDelta, domain.EventTextDone, domain.EventFinish,
	}, testutil.Types(got))
	result := findEvent(got, domain.EventToolResult).Result.(*tool.Result)
	assert.Contains(t, result.Output, "approved")
	assert.Equal(t, int64(1), f.metrics.ApprovalsGranted.Load())

	// The approval sticks for the session.
	assert.True(t, f.orch.classifier.CheckBash("chat-1", "echo approved").Allowed)
}

func TestRunAskModeDenied(t *testing.T) {
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "echo", map[string]any{"message": "x"}),
		testutil.TextResponse("understood"),
	)
	f := newFixture(t, provider, domain.ModeAsk)

	events, err := f.orch.Run(context.Background(), chatRequest("do it"))
	require.NoError(t, err)

	var got []domain.StreamEvent
	for ev := range events {
		got = append(got, ev)
		if ev.Type == domain.EventPermissionRequest {
			assert.Equal(t, permission.ToolKey("echo", map[string]any{"message": "x"}), ev.Permission.Command)
			f.store.Deny(ev.Permission.SessionID, ev.Permission.Command)
		}
	}

	result := findEvent(got, domain.EventToolResult).Result.(*tool.Result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Output, "denied by user")
	assert.Equal(t, 0, f.echo.Calls())
	assert.Equal(t, domain.EventFinish, got[len(got)-1].Type)
	assert.Equal(t, int64(1), f.metrics.ApprovalsDenied.Load())
}

func TestRunSafeModeRefusesWithoutPrompt(t *testing.T) {
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "bash", map[string]any{"command": "touch file"}),
		testutil.TextResponse("ok"),
	)
	f := newFixture(t, provider, domain.ModeSafe)

	events := run(t, f, chatRequest("touch"))

	assert.Nil(t, findEvent(events, domain.EventPermissionRequest))
	result := findEvent(events, domain.EventToolResult).Result.(*tool.Result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Output, "safe mode")
}

func TestRunReadOnlyToolSkipsPermission(t *testing.T) {
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "list_things", nil),
		testutil.TextResponse("ok"),
	)
	f := newFixture(t, provider, domain.ModeSafe)

	events := run(t, f, chatRequest("list"))

	result := findEvent(events, domain.EventToolResult).Result.(*tool.Result)
	assert.Equal(t, "a, b", result.Output)
}

func TestRunBlockedCommandInAllowAll(t *testing.T) {
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "bash", map[string]any{"command": "rm -rf /"}),
		testutil.TextResponse("ok"),
	)
	f := newFixture(t, provider, domain.ModeAllowAll)

	events := run(t, f, chatRequest("wipe"))

	result := findEvent(events, domain.EventToolResult).Result.(*tool.Result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Output, "blocked")
	assert.Equal(t, int64(1), f.metrics.BlockedCommands.Load())
	assert.Equal(t, int64(0), f.metrics.ToolCalls.Load())
}

func TestRunPlanMode(t *testing.T) {
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "echo", map[string]any{"message": "x"}),
		testutil.TextResponse("here is the plan"),
	)
	f := newFixture(t, provider, domain.ModeAllowAll)

	req := chatRequest("plan it")
	req.Mode = domain.ChatModePlan
	events := run(t, f, req)

	result := findEvent(events, domain.EventToolResult).Result.(*tool.Result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Output, "plan mode")
	assert.Equal(t, 0, f.echo.Calls())

	first := provider.Request(0)
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "list_things", first.Tools[0].Name)
	assert.Contains(t, first.SystemPrompt, "plan mode")
}

func TestRunProviderErrorTerminates(t *testing.T) {
	provider := testutil.NewMockProvider(
		[]domain.StreamEvent{domain.TextDelta("partial"), domain.Failure("openai API error (500): boom")},
	)
	f := newFixture(t, provider, domain.ModeAsk)

	events := run(t, f, chatRequest("hi"))

	assert.Equal(t, []domain.StreamEventType{domain.EventTextDelta, domain.EventError}, testutil.Types(events))
	assert.Equal(t, int64(1), f.metrics.StreamsFailed.Load())
}

func TestRunCancelledWhileAwaitingApproval(t *testing.T) {
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "echo", map[string]any{"message": "x"}),
	)
	f := newFixture(t, provider, domain.ModeAsk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := f.orch.Run(ctx, chatRequest("hi"))
	require.NoError(t, err)

	var got []domain.StreamEvent
	for ev := range events {
		got = append(got, ev)
		if ev.Type == domain.EventPermissionRequest {
			cancel()
		}
	}

	for _, ev := range got {
		assert.False(t, ev.IsTerminal(), "unexpected terminal event %s", ev.Type)
	}
	assert.Equal(t, 0, f.echo.Calls())
	assert.Eventually(t, func() bool { return f.metrics.StreamsCancelled.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunCancelledMidStream(t *testing.T) {
	provider := testutil.NewMockProvider(testutil.StalledResponse(domain.TextDelta("thinking")))
	f := newFixture(t, provider, domain.ModeAsk)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := f.orch.Run(ctx, chatRequest("hi"))
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, domain.EventTextDelta, first.Type)
	cancel()

	rest := testutil.Collect(t, events, 2*time.Second)
	assert.Empty(t, rest)
}

func TestRunCancelledDuringToolExecution(t *testing.T) {
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "echo", map[string]any{"message": "slow"}),
	)
	f := newFixture(t, provider, domain.ModeAllowAll)
	f.echo.WithDelay(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := f.orch.Run(ctx, chatRequest("hi"))
	require.NoError(t, err)

	var got []domain.StreamEvent
	for ev := range events {
		got = append(got, ev)
		if ev.Type == domain.EventToolCallDone {
			assert.Eventually(t, func() bool { return f.echo.Calls() == 1 }, time.Second, 5*time.Millisecond)
			cancel()
		}
	}

	assert.Nil(t, findEvent(got, domain.EventToolResult))
	for _, ev := range got {
		assert.False(t, ev.IsTerminal(), "unexpected terminal event %s", ev.Type)
	}
}

func TestRunMaxRounds(t *testing.T) {
	call := testutil.ToolCallResponse("c", "echo", map[string]any{"message": "again"})
	provider := testutil.NewMockProvider(call, call, call)
	f := newFixture(t, provider, domain.ModeAllowAll, WithMaxRounds(2))

	events := run(t, f, chatRequest("loop"))

	assert.Equal(t, 2, provider.CallCount())
	assert.Equal(t, 2, f.echo.Calls())
	assert.Equal(t, domain.EventFinish, events[len(events)-1].Type)
}

func TestRunHistory(t *testing.T) {
	store := testutil.NewStore(t)
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "echo", map[string]any{"message": "pong"}),
		testutil.TextResponse("first answer"),
		testutil.TextResponse("second answer"),
	)
	f := newFixture(t, provider, domain.ModeAllowAll, WithHistory(store))

	run(t, f, chatRequest("first"))

	msgs, err := store.Messages(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "echo", msgs[1].ToolCalls[0].Name)
	assert.Equal(t, domain.RoleTool, msgs[2].Role)
	assert.Equal(t, "first answer", msgs[3].Content)

	run(t, f, chatRequest("second"))

	third := provider.Request(2).Messages
	require.Len(t, third, 5)
	assert.Equal(t, "first", third[0].Content)
	assert.Equal(t, "second", third[4].Content)
}

func TestRunCancelledApprovalKeepsHistoryReplayable(t *testing.T) {
	store := testutil.NewStore(t)
	provider := testutil.NewMockProvider(
		testutil.ToolCallResponse("call-1", "echo", map[string]any{"message": "x"}),
		testutil.TextResponse("fine"),
	)
	f := newFixture(t, provider, domain.ModeAsk, WithHistory(store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := f.orch.Run(ctx, chatRequest("go"))
	require.NoError(t, err)
	for ev := range events {
		if ev.Type == domain.EventPermissionRequest {
			cancel()
		}
	}

	run(t, f, chatRequest("again"))

	sent := provider.Request(1).Messages
	require.Len(t, sent, 4)
	assert.Equal(t, "go", sent[0].Content)
	require.Len(t, sent[1].ToolCalls, 1)
	assert.Equal(t, domain.RoleTool, sent[2].Role)
	assert.Equal(t, "call-1", sent[2].ToolCallID)
	assert.True(t, sent[2].IsError)
	assert.Contains(t, sent[2].Content, "cancelled")
	assert.Equal(t, "again", sent[3].Content)
	assert.Equal(t, 0, f.echo.Calls())
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t, testutil.NewMockProvider(), domain.ModeAsk)

	req := chatRequest("hi")
	req.Provider = domain.ProviderAnthropic
	_, err := f.orch.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	req = chatRequest("hi")
	req.APIKey = ""
	_, err = f.orch.Run(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)

	req = chatRequest("  ")
	_, err = f.orch.Run(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrEmptyPrompt)
}

func TestRunTrimsHistoryToContextBudget(t *testing.T) {
	provider := testutil.NewMockProvider(testutil.TextResponse("ok"))
	f := newFixture(t, provider, domain.ModeAsk, WithContextBudget(40))

	req := chatRequest("next")
	req.Messages = []domain.Message{
		{Role: domain.RoleUser, Content: strings.Repeat("old context ", 200)},
		{Role: domain.RoleAssistant, Content: "old answer"},
	}
	run(t, f, req)

	sent := provider.Request(0).Messages
	require.Len(t, sent, 2)
	assert.Equal(t, "old answer", sent[0].Content)
	assert.Equal(t, "next", sent[1].Content)
}
