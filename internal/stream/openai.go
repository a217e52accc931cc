package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/joss/sagi/internal/domain"
)

// OpenAIAdapter parses OpenAI-compatible chat-completions chunks. Tool calls
// are keyed by their per-delta index.
type OpenAIAdapter struct {
	// Name is reported as the provider, e.g. "openai" or "zai".
	Name string
}

type openAIChunk struct {
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage"`
	Error   *openAIError   `json:"error"`
}

type openAIChoice struct {
	Index        int         `json:"index"`
	Delta        openAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type openAIDelta struct {
	Content   *string               `json:"content"`
	ToolCalls []openAIToolCallDelta `json:"tool_calls"`
}

type openAIToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIError struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
}

func (a OpenAIAdapter) Provider() string {
	if a.Name == "" {
		return string(domain.ProviderOpenAI)
	}
	return a.Name
}

func (a OpenAIAdapter) Parse(ev Event) ([]Signal, error) {
	data := strings.TrimSpace(ev.Data)
	if data == "[DONE]" {
		return []Signal{{Kind: SignalEnd}}, nil
	}

	var chunk openAIChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, fmt.Errorf("decode %s chunk: %w", a.Provider(), err)
	}
	if chunk.Error != nil {
		typ := chunk.Error.Type
		if typ == "" {
			typ = strings.Trim(string(chunk.Error.Code), `"`)
		}
		return []Signal{{Kind: SignalError, Err: &ProviderError{
			Provider: a.Provider(),
			Type:     typ,
			Message:  chunk.Error.Message,
		}}}, nil
	}
	if chunk.Choices == nil && chunk.Usage == nil {
		return nil, ErrUnexpectedPayload
	}

	var signals []Signal
	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if c := choice.Delta.Content; c != nil && *c != "" {
			signals = append(signals, Signal{Kind: SignalText, Text: *c})
		}
		for _, tc := range choice.Delta.ToolCalls {
			key := strconv.Itoa(tc.Index)
			if tc.ID != "" || tc.Function.Name != "" {
				signals = append(signals, Signal{Kind: SignalToolStart, Key: key, ID: tc.ID, Name: tc.Function.Name})
			}
			if tc.Function.Arguments != "" {
				signals = append(signals, Signal{Kind: SignalToolDelta, Key: key, Text: tc.Function.Arguments})
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			signals = append(signals, Signal{Kind: SignalToolFlush})
		}
	}
	if chunk.Usage != nil {
		signals = append(signals, Signal{Kind: SignalUsage, Usage: &domain.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}})
	}
	return signals, nil
}
