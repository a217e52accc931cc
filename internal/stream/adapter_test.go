package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/sagi/internal/domain"
)

// --- OpenAI Adapter Tests ---

func TestOpenAIAdapterDone(t *testing.T) {
	signals, err := OpenAIAdapter{}.Parse(Event{Data: "[DONE]"})
	require.NoError(t, err)
	assert.Equal(t, []Signal{{Kind: SignalEnd}}, signals)
}

func TestOpenAIAdapterToolCallFirstChunk(t *testing.T) {
	signals, err := OpenAIAdapter{}.Parse(Event{Data: `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":2,"id":"call_x","type":"function","function":{"name":"bash","arguments":"{\"com"}}]}}]}`})
	require.NoError(t, err)
	assert.Equal(t, []Signal{
		{Kind: SignalToolStart, Key: "2", ID: "call_x", Name: "bash"},
		{Kind: SignalToolDelta, Key: "2", Text: `{"com`},
	}, signals)
}

func TestOpenAIAdapterErrorChunk(t *testing.T) {
	signals, err := OpenAIAdapter{Name: "zai"}.Parse(Event{Data: `{"error":{"code":"1113","message":"Insufficient balance"}}`})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalError, signals[0].Kind)
	assert.EqualError(t, signals[0].Err, "zai stream error (1113): Insufficient balance")
}

func TestOpenAIAdapterRejects(t *testing.T) {
	_, err := OpenAIAdapter{}.Parse(Event{Data: `{"foo":1}`})
	assert.ErrorIs(t, err, ErrUnexpectedPayload)

	_, err = OpenAIAdapter{}.Parse(Event{Data: `{"choices":`})
	assert.Error(t, err)
}

func TestOpenAIAdapterIgnoresOtherChoices(t *testing.T) {
	signals, err := OpenAIAdapter{}.Parse(Event{Data: `{"choices":[{"index":1,"delta":{"content":"alt"}}]}`})
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestOpenAIAdapterProviderName(t *testing.T) {
	assert.Equal(t, "openai", OpenAIAdapter{}.Provider())
	assert.Equal(t, "zai", OpenAIAdapter{Name: "zai"}.Provider())
}

// --- Anthropic Adapter Tests ---

func TestAnthropicAdapterEvents(t *testing.T) {
	a := AnthropicAdapter{}
	tests := []struct {
		name string
		data string
		want []Signal
	}{
		{
			"message_start",
			`{"type":"message_start","message":{"usage":{"input_tokens":10,"output_tokens":1}}}`,
			[]Signal{{Kind: SignalUsage, Usage: &domain.Usage{InputTokens: 10, OutputTokens: 1}}},
		},
		{
			"tool_use start",
			`{"type":"content_block_start","index":3,"content_block":{"type":"tool_use","id":"toolu_9","name":"bash","input":{}}}`,
			[]Signal{{Kind: SignalToolStart, Key: "3", ID: "toolu_9", Name: "bash"}},
		},
		{
			"input_json_delta",
			`{"type":"content_block_delta","index":3,"delta":{"type":"input_json_delta","partial_json":"{}"}}`,
			[]Signal{{Kind: SignalToolDelta, Key: "3", Text: "{}"}},
		},
		{
			"thinking_delta",
			`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}`,
			nil,
		},
		{
			"stop",
			`{"type":"content_block_stop","index":3}`,
			[]Signal{{Kind: SignalToolStop, Key: "3"}},
		},
		{
			"message_delta",
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
			[]Signal{{Kind: SignalUsage, Usage: &domain.Usage{OutputTokens: 5}}},
		},
		{
			"message_stop",
			`{"type":"message_stop"}`,
			[]Signal{{Kind: SignalEnd}},
		},
		{
			"unknown type",
			`{"type":"future_event"}`,
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals, err := a.Parse(Event{Name: tt.name, Data: tt.data})
			require.NoError(t, err)
			assert.Equal(t, tt.want, signals)
		})
	}
}

func TestAnthropicAdapterRejects(t *testing.T) {
	_, err := AnthropicAdapter{}.Parse(Event{Data: `{"index":0}`})
	assert.ErrorIs(t, err, ErrUnexpectedPayload)

	_, err = AnthropicAdapter{}.Parse(Event{Data: `{"type":"content_block_delta","index":0}`})
	assert.ErrorIs(t, err, ErrUnexpectedPayload)

	_, err = AnthropicAdapter{}.Parse(Event{Data: `garbage`})
	assert.Error(t, err)
}
