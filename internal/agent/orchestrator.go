// Package agent drives one user turn: model stream, permission-gated tool
// execution and follow-up rounds until the model stops calling tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/logging"
	"github.com/joss/sagi/internal/metrics"
	"github.com/joss/sagi/internal/permission"
	"github.com/joss/sagi/internal/retry"
	"github.com/joss/sagi/internal/tokens"
	"github.com/joss/sagi/internal/tool"
	"github.com/joss/sagi/pkg/llm"
)

const (
	DefaultMaxRounds = 8
	DefaultMaxTokens = 8192
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoProviders     = errors.New("no providers configured")
)

// History persists chat transcripts. storage.Store implements it.
type History interface {
	AppendMessage(ctx context.Context, chatID string, msg *domain.Message) error
	Messages(ctx context.Context, chatID string) ([]domain.Message, error)
}

// Orchestrator runs chat turns against the registered providers and tools.
type Orchestrator struct {
	providers  *llm.Registry
	tools      *tool.Registry
	classifier *permission.Classifier
	history    History
	prompts    *PromptBuilder
	maxRounds  int
	maxTokens  int
	budget     int
	logger     *AgentLogger
	metrics    *metrics.Metrics
	log        *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistory loads and stores transcripts through h.
func WithHistory(h History) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithMaxRounds bounds the number of model calls per turn.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithMaxTokens sets the per-round output token limit.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithContextBudget trims prior history to the newest messages that fit in
// n tokens. Zero keeps the whole history.
func WithContextBudget(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.budget = n
		}
	}
}

// WithAgentLogger sets the per-turn JSON logger.
func WithAgentLogger(l *AgentLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records counters on m instead of the global instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSystemPrompt appends custom instructions to the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.prompts.SetCustomPrompt(prompt) }
}

// New creates an Orchestrator with its dependencies
func New(providers *llm.Registry, tools *tool.Registry, classifier *permission.Classifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers:  providers,
		tools:      tools,
		classifier: classifier,
		prompts:    NewPromptBuilder(),
		maxRounds:  DefaultMaxRounds,
		maxTokens:  DefaultMaxTokens,
		logger:     NewAgentLogger(),
		metrics:    metrics.Global(),
		log:        logging.New("agent"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Permissions returns the permission store consulted by the loop.
func (o *Orchestrator) Permissions() *permission.Store {
	return o.classifier.Store()
}

// Run validates req and starts the turn. The returned channel carries the
// events of every round in order and ends with one finish or error event,
// or with no terminal event when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if o.providers == nil {
		return nil, ErrNoProviders
	}
	provider, ok := o.providers.Get(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}

	history := req.Messages
	if history == nil && o.history != nil {
		stored, err := o.history.Messages(ctx, req.ChatID)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		history = repairHistory(stored)
	}

	model := req.Model
	if model == "" {
		model = provider.DefaultModel()
	}

	t := &turn{
		o:        o,
		req:      req,
		provider: provider,
		model:    model,
		out:      make(chan domain.StreamEvent, 64),
		log:      o.log.WithChat(req.ChatID).WithRequest(logging.GetRequestID(ctx)),
		messages: append([]domain.Message{}, tokens.Window(history, o.budget)...),
		started:  time.Now(),
	}

	o.metrics.RecordStreamStart()
	o.logger.TurnStart(req, model)

	go func() {
		defer close(t.out)
		err := logging.NewRecoveryHandler("agent").WrapError(func() error {
			t.run(ctx)
			return nil
		})
		if err != nil {
			t.fail(ctx, err)
		}
		t.done()
	}()
	return t.out, nil
}

type turn struct {
	o        *Orchestrator
	req      domain.ChatRequest
	provider llm.Provider
	model    string
	out      chan domain.StreamEvent
	log      *logging.Logger

	messages []domain.Message
	usage    domain.Usage
	rounds   int
	outcome  string
	started  time.Time
}

func (t *turn) run(ctx context.Context) {
	user := domain.Message{Role: domain.RoleUser, Content: t.req.Prompt}
	t.messages = append(t.messages, user)
	t.persist(ctx, &user)

	tools := t.o.tools.Definitions(t.req.Mode == domain.ChatModePlan)

	for t.rounds < t.o.maxRounds {
		t.rounds++
		calls, text, ok := t.round(ctx, tools)
		if !ok {
			return
		}

		assistant := domain.Message{Role: domain.RoleAssistant, Content: text, ToolCalls: calls}
		t.messages = append(t.messages, assistant)
		t.persist(ctx, &assistant)

		if len(calls) == 0 {
			break
		}
		for i, call := range calls {
			result := t.execute(ctx, call)
			t.answer(ctx, call, result)
			if ctx.Err() != nil || !t.emit(ctx, domain.ToolResult(call.ID, result)) {
				// Every stored tool call needs a result or the chat cannot
				// be replayed to the provider.
				for _, rest := range calls[i+1:] {
					t.answer(ctx, rest, denied("cancelled"))
				}
				t.outcome = metrics.OutcomeCancelled
				return
			}
		}
		if t.rounds == t.o.maxRounds {
			t.log.Warn("max_rounds_reached", map[string]interface{}{"rounds": t.rounds}, nil)
		}
	}

	var usage *domain.Usage
	if !t.usage.IsZero() {
		u := t.usage
		usage = &u
	}
	if t.emit(ctx, domain.Finish(usage)) {
		t.outcome = metrics.OutcomeFinished
	}
}

// round streams one model call. It forwards every event except finish and
// reports the completed tool calls and the round's text. ok is false when
// the turn ended inside the round.
func (t *turn) round(ctx context.Context, tools []domain.ToolDefinition) (calls []domain.ToolCall, text string, ok bool) {
	start := time.Now()
	events, err := t.provider.Chat(ctx, &llm.ChatRequest{
		Model:        t.model,
		APIKey:       t.req.APIKey,
		Messages:     t.messages,
		Tools:        tools,
		MaxTokens:    t.o.maxTokens,
		SystemPrompt: t.o.prompts.Build(t.req.Mode),
		Flex:         t.req.Flex,
	})
	if err != nil {
		t.o.logger.LLMRound(t.req.ChatID, t.model, t.rounds, time.Since(start), nil, err)
		t.fail(ctx, err)
		return nil, "", false
	}

	finished := false
	for ev := range events {
		switch ev.Type {
		case domain.EventFinish:
			finished = true
			if ev.Usage != nil {
				t.usage.Add(*ev.Usage)
			}
			t.o.logger.LLMRound(t.req.ChatID, t.model, t.rounds, time.Since(start), ev.Usage, nil)
			continue
		case domain.EventError:
			t.o.logger.LLMRound(t.req.ChatID, t.model, t.rounds, time.Since(start), nil, errors.New(ev.Error))
			if t.emit(ctx, ev) {
				t.outcome = metrics.OutcomeFailed
			}
			return nil, "", false
		case domain.EventToolCallDone:
			calls = append(calls, domain.ToolCall{ID: ev.ToolCallID, Name: ev.ToolName, Args: ev.Args})
		case domain.EventTextDone:
			text = ev.Text
		}
		if !t.emit(ctx, ev) {
			return nil, "", false
		}
	}

	if !finished {
		// The provider closes without a terminal event only on cancellation.
		t.outcome = metrics.OutcomeCancelled
		return nil, "", false
	}
	return calls, text, true
}

// execute applies the permission policy to call and runs the tool when
// allowed. Refusals become error results so the model can react.
func (t *turn) execute(ctx context.Context, call domain.ToolCall) *tool.Result {
	chatID := t.req.ChatID

	tl, ok := t.o.tools.Get(call.Name)
	if !ok {
		return denied("unknown tool: " + call.Name)
	}
	if t.req.Mode == domain.ChatModePlan && !tl.ReadOnly() {
		return denied("plan mode: " + call.Name + " is not available")
	}

	var decision domain.Decision
	var key string
	if call.Name == tool.BashName {
		key = permission.NormalizeCommand(tool.Command(call.Args))
		decision = t.o.classifier.CheckBash(chatID, key)
	} else if tl.ReadOnly() {
		decision = domain.Decision{Allowed: true}
	} else {
		key = permission.ToolKey(call.Name, call.Args)
		decision = t.o.classifier.CheckTool(chatID, call.Name, call.Args)
	}
	t.o.logger.Permission(chatID, call.Name, decision)

	switch {
	case decision.Blocked:
		t.o.metrics.RecordBlocked()
		return denied(decision.Reason)
	case decision.RequiresConfirmation:
		t.o.metrics.RecordApprovalRequest()
		ask := domain.PermissionAsk(call.ID, call.Name, domain.PermissionRequest{
			SessionID: chatID,
			Command:   key,
			Reason:    decision.Reason,
		})
		if !t.emit(ctx, ask) {
			return denied("cancelled")
		}
		approved, err := t.o.classifier.Store().Await(ctx, chatID, key)
		if err != nil {
			return denied("cancelled")
		}
		t.o.metrics.RecordApproval(approved)
		if !approved {
			return denied("denied by user: " + decision.Reason)
		}
	case !decision.Allowed:
		return denied(decision.Reason)
	}

	start := time.Now()
	result, err := t.o.tools.Execute(tool.WithChatID(ctx, chatID), call.Name, call.Args)
	if result == nil {
		result = &tool.Result{IsError: true}
		if err != nil {
			result.Output = err.Error()
		}
	}
	if err != nil && result.Output == "" {
		result.Output = err.Error()
	}
	t.o.metrics.RecordToolCall(err != nil || result.IsError)
	t.o.logger.ToolCall(chatID, call.Name, call.Args, time.Since(start), result.Output, err)
	return result
}

func denied(reason string) *tool.Result {
	return &tool.Result{Output: "permission denied: " + reason, IsError: true}
}

// emit delivers ev unless the caller cancelled.
func (t *turn) emit(ctx context.Context, ev domain.StreamEvent) bool {
	if ctx.Err() != nil {
		t.outcome = metrics.OutcomeCancelled
		return false
	}
	select {
	case t.out <- ev:
		return true
	case <-ctx.Done():
		t.outcome = metrics.OutcomeCancelled
		return false
	}
}

// fail emits a sanitized error event unless the caller cancelled.
func (t *turn) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		t.outcome = metrics.OutcomeCancelled
		return
	}
	t.log.Error("turn_failed", nil, err)
	if t.emit(ctx, domain.Failure(retry.UserMessage(err))) {
		t.outcome = metrics.OutcomeFailed
	}
}

// answer records result as the tool message for call.
func (t *turn) answer(ctx context.Context, call domain.ToolCall, result *tool.Result) {
	msg := domain.Message{
		Role:       domain.RoleTool,
		ToolCallID: call.ID,
		Content:    result.Output,
		IsError:    result.IsError,
	}
	t.messages = append(t.messages, msg)
	t.persist(ctx, &msg)
}

func (t *turn) persist(ctx context.Context, msg *domain.Message) {
	if t.o.history == nil {
		return
	}
	// Store even when the client went away mid-turn.
	if err := t.o.history.AppendMessage(context.WithoutCancel(ctx), t.req.ChatID, msg); err != nil {
		t.log.Warn("persist_failed", map[string]interface{}{"role": msg.Role}, err)
	}
}

func (t *turn) done() {
	if t.outcome == "" {
		t.outcome = metrics.OutcomeCancelled
	}
	d := time.Since(t.started)
	t.o.metrics.RecordStreamEnd(t.outcome, d)
	t.o.logger.TurnEnd(t.req.ChatID, t.outcome, t.rounds, t.usage, d)
	t.log.TimedEvent("turn_end", t.started, map[string]interface{}{
		"outcome": t.outcome,
		"rounds":  t.rounds,
	})
}
