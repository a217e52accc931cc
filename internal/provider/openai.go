package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/retry"
	"github.com/joss/sagi/internal/stream"
	"github.com/joss/sagi/pkg/llm"
)

const (
	openaiAPIURL = "https://api.openai.com/v1"
	zaiAPIURL    = "https://api.z.ai/api/paas/v4"

	openaiDefaultModel = "gpt-4o"
	zaiDefaultModel    = "glm-4.6"
)

// OpenAI speaks the chat completions API. Z.AI exposes the same wire
// format under a different base path.
type OpenAI struct {
	id           domain.ProviderID
	name         string
	endpoint     string
	defaultModel string
	transport    *transport
}

// NewOpenAI returns a client for api.openai.com or a compatible base URL.
func NewOpenAI(opts ...ConfigOption) *OpenAI {
	cfg := buildConfig(domain.ProviderOpenAI, opts)
	return newOpenAICompatible(domain.ProviderOpenAI, "OpenAI", openaiAPIURL, openaiDefaultModel, cfg)
}

// NewZai returns a client for the Z.AI GLM endpoint.
func NewZai(opts ...ConfigOption) *OpenAI {
	cfg := buildConfig(domain.ProviderZai, opts)
	return newOpenAICompatible(domain.ProviderZai, "Z.AI", zaiAPIURL, zaiDefaultModel, cfg)
}

func newOpenAICompatible(id domain.ProviderID, name, defaultURL, defaultModel string, cfg Config) *OpenAI {
	base := cfg.BaseURL
	if base == "" {
		base = defaultURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultModel
	}
	return &OpenAI{
		id:           id,
		name:         name,
		endpoint:     chatCompletionsURL(base),
		defaultModel: model,
		transport:    newTransport(string(id), cfg),
	}
}

// chatCompletionsURL appends /chat/completions unless already present.
// Bare hosts get /v1 first.
func chatCompletionsURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	if !strings.Contains(strings.TrimPrefix(strings.TrimPrefix(base, "https://"), "http://"), "/") {
		base += "/v1"
	}
	return base + "/chat/completions"
}

func (o *OpenAI) ID() domain.ProviderID { return o.id }
func (o *OpenAI) Name() string          { return o.name }
func (o *OpenAI) DefaultModel() string  { return o.defaultModel }

type openaiRequest struct {
	Model         string            `json:"model"`
	Messages      []openaiMessage   `json:"messages"`
	Tools         []openaiTool      `json:"tools,omitempty"`
	Stream        bool              `json:"stream"`
	StreamOptions *openaiStreamOpts `json:"stream_options,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   float64           `json:"temperature,omitempty"`
}

type openaiStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiFunctionSpec `json:"function"`
}

type openaiFunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (o *OpenAI) buildRequest(req *llm.ChatRequest) openaiRequest {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	var messages []openaiMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msg := openaiMessage{Role: string(m.Role), Content: m.Content}
		switch m.Role {
		case domain.RoleTool:
			msg.ToolCallID = m.ToolCallID
		case domain.RoleAssistant:
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				if tc.Args == nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: openaiFunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			if len(msg.ToolCalls) > 0 && m.Content == "" {
				msg.Content = nil
			}
		}
		messages = append(messages, msg)
	}

	var tools []openaiTool
	for _, t := range req.Tools {
		tools = append(tools, openaiTool{
			Type: "function",
			Function: openaiFunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return openaiRequest{
		Model:         model,
		Messages:      messages,
		Tools:         tools,
		Stream:        true,
		StreamOptions: &openaiStreamOpts{IncludeUsage: true},
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
	}
}

func (o *OpenAI) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	if req.APIKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	body := o.buildRequest(req)
	headers := map[string]string{"Authorization": "Bearer " + req.APIKey}

	driver := stream.Driver{
		Adapter: stream.OpenAIAdapter{Name: string(o.id)},
		Timeout: retry.RequestTimeout(req.Flex),
	}
	return driver.Stream(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		return o.transport.open(ctx, o.endpoint, headers, body)
	}), nil
}
