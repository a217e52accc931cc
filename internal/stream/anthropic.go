package stream

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/joss/sagi/internal/domain"
)

// AnthropicAdapter parses Anthropic messages stream events. Tool calls are
// keyed by content block index; the block's id arrives at block start.
type AnthropicAdapter struct{}

type anthropicEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	Message      *anthropicMessage      `json:"message"`
	ContentBlock *anthropicContentBlock `json:"content_block"`
	Delta        *anthropicDelta        `json:"delta"`
	Usage        *anthropicUsage        `json:"usage"`
	Error        *anthropicError        `json:"error"`
}

type anthropicMessage struct {
	Usage anthropicUsage `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	StopReason  string `json:"stop_reason"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (AnthropicAdapter) Provider() string { return string(domain.ProviderAnthropic) }

func (a AnthropicAdapter) Parse(ev Event) ([]Signal, error) {
	var e anthropicEvent
	if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
		return nil, fmt.Errorf("decode anthropic event: %w", err)
	}
	key := strconv.Itoa(e.Index)

	switch e.Type {
	case "message_start":
		if e.Message == nil {
			return nil, ErrUnexpectedPayload
		}
		return []Signal{{Kind: SignalUsage, Usage: &domain.Usage{
			InputTokens:  e.Message.Usage.InputTokens,
			OutputTokens: e.Message.Usage.OutputTokens,
		}}}, nil

	case "content_block_start":
		if e.ContentBlock == nil {
			return nil, ErrUnexpectedPayload
		}
		switch e.ContentBlock.Type {
		case "tool_use":
			return []Signal{{Kind: SignalToolStart, Key: key, ID: e.ContentBlock.ID, Name: e.ContentBlock.Name}}, nil
		case "text":
			if e.ContentBlock.Text != "" {
				return []Signal{{Kind: SignalText, Text: e.ContentBlock.Text}}, nil
			}
		}
		return nil, nil

	case "content_block_delta":
		if e.Delta == nil {
			return nil, ErrUnexpectedPayload
		}
		switch e.Delta.Type {
		case "text_delta":
			if e.Delta.Text == "" {
				return nil, nil
			}
			return []Signal{{Kind: SignalText, Text: e.Delta.Text}}, nil
		case "input_json_delta":
			if e.Delta.PartialJSON == "" {
				return nil, nil
			}
			return []Signal{{Kind: SignalToolDelta, Key: key, Text: e.Delta.PartialJSON}}, nil
		}
		// thinking and signature deltas are not forwarded
		return nil, nil

	case "content_block_stop":
		return []Signal{{Kind: SignalToolStop, Key: key}}, nil

	case "message_delta":
		if e.Usage == nil {
			return nil, nil
		}
		return []Signal{{Kind: SignalUsage, Usage: &domain.Usage{OutputTokens: e.Usage.OutputTokens}}}, nil

	case "message_stop":
		return []Signal{{Kind: SignalEnd}}, nil

	case "error":
		pe := &ProviderError{Provider: a.Provider()}
		if e.Error != nil {
			pe.Type = e.Error.Type
			pe.Message = e.Error.Message
		}
		return []Signal{{Kind: SignalError, Err: pe}}, nil

	case "ping":
		return nil, nil

	case "":
		return nil, ErrUnexpectedPayload
	}
	// new event types are ignored
	return nil, nil
}
