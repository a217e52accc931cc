package provider

import (
	"context"
	"io"
	"strings"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/retry"
	"github.com/joss/sagi/internal/stream"
	"github.com/joss/sagi/pkg/llm"
)

const (
	anthropicAPIURL       = "https://api.anthropic.com"
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
	anthropicMaxTokens    = 8192
)

type Anthropic struct {
	endpoint     string
	defaultModel string
	transport    *transport
}

func NewAnthropic(opts ...ConfigOption) *Anthropic {
	cfg := buildConfig(domain.ProviderAnthropic, opts)
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = anthropicAPIURL
	}
	if !strings.HasSuffix(base, "/messages") {
		base = strings.TrimSuffix(base, "/v1") + "/v1/messages"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = anthropicDefaultModel
	}
	return &Anthropic{
		endpoint:     base,
		defaultModel: model,
		transport:    newTransport(string(domain.ProviderAnthropic), cfg),
	}
}

func (a *Anthropic) ID() domain.ProviderID { return domain.ProviderAnthropic }
func (a *Anthropic) Name() string          { return "Anthropic" }
func (a *Anthropic) DefaultModel() string  { return a.defaultModel }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	// Input is always written for tool_use blocks, even when empty; it is
	// an interface so that other block types omit it.
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// buildRequest maps the transcript onto the Messages API. System messages
// join the top-level system prompt, tool results travel as user turns, and
// consecutive turns with the same role are merged since the API requires
// strict alternation.
func (a *Anthropic) buildRequest(req *llm.ChatRequest) anthropicRequest {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	system := []string{}
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	var messages []anthropicMessage
	push := func(role string, blocks ...anthropicBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleTool:
			push("user", anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content, IsError: m.IsError})
		case domain.RoleAssistant:
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			push("assistant", blocks...)
		default:
			push("user", anthropicBlock{Type: "text", Text: m.Content})
		}
	}

	var tools []anthropicTool
	for _, t := range req.Tools {
		tools = append(tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		Tools:       tools,
		Stream:      true,
		Temperature: req.Temperature,
	}
}

func (a *Anthropic) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	if req.APIKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	body := a.buildRequest(req)
	headers := map[string]string{
		"x-api-key":         req.APIKey,
		"anthropic-version": anthropicVersion,
	}

	driver := stream.Driver{
		Adapter: stream.AnthropicAdapter{},
		Timeout: retry.RequestTimeout(req.Flex),
	}
	return driver.Stream(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		return a.transport.open(ctx, a.endpoint, headers, body)
	}), nil
}
