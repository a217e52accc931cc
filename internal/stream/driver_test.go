package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/retry"
)

// chunkedReader returns the input split into fixed-size reads.
type chunkedReader struct {
	data []byte
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(r.size, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func openString(body string, chunk int) Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(&chunkedReader{data: []byte(body), size: chunk}), nil
	}
}

func collect(t *testing.T, ch <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func sse(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&b, "data: %s\n\n", p)
	}
	return b.String()
}

func anthropicSSE(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		var head struct{ Type string }
		_ = json.Unmarshal([]byte(p), &head)
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", head.Type, p)
	}
	return b.String()
}

func openAI() Driver { return Driver{Adapter: OpenAIAdapter{}} }

// --- End-to-end Tests ---

func TestOpenAITextStream(t *testing.T) {
	body := sse(
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":" world"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	)

	for _, chunk := range []int{1, 7, 64, len(body)} {
		t.Run(fmt.Sprintf("chunk=%d", chunk), func(t *testing.T) {
			events := collect(t, openAI().Stream(context.Background(), openString(body, chunk)))
			assert.Equal(t, []domain.StreamEvent{
				domain.TextDelta("Hello"),
				domain.TextDelta(" world"),
				domain.TextDone("Hello world"),
				domain.Finish(nil),
			}, events)
		})
	}
}

func TestOpenAISingleToolCall(t *testing.T) {
	body := sse(
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"create_spreadsheet","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"name\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Sheet1\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7}}`,
		`[DONE]`,
	)

	events := collect(t, openAI().Stream(context.Background(), openString(body, 5)))
	assert.Equal(t, []domain.StreamEvent{
		domain.ToolCallStart("call_1", "create_spreadsheet"),
		domain.ToolCallDelta("call_1", `{"name":`),
		domain.ToolCallDelta("call_1", `"Sheet1"}`),
		domain.ToolCallDone("call_1", "create_spreadsheet", map[string]any{"name": "Sheet1"}),
		domain.Finish(&domain.Usage{InputTokens: 12, OutputTokens: 7}),
	}, events)
}

func TestOpenAIInterleavedToolCalls(t *testing.T) {
	body := sse(
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"update_cells","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"create_document","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"artifactId\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"title\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"A\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"\"B\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	)

	events := collect(t, openAI().Stream(context.Background(), openString(body, 3)))

	done := map[string]map[string]any{}
	for _, ev := range events {
		if ev.Type == domain.EventToolCallDone {
			done[ev.ToolCallID] = ev.Args
		}
	}
	assert.Equal(t, map[string]any{"artifactId": "A"}, done["call_a"])
	assert.Equal(t, map[string]any{"title": "B"}, done["call_b"])
	assertToolOrdering(t, events)
	assertSingleTerminal(t, events)
}

func TestAnthropicToolAndText(t *testing.T) {
	body := anthropicSSE(
		`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":25,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"ping"}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Creating"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" it"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"create_spreadsheet","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"name\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Sheet1\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":42}}`,
		`{"type":"message_stop"}`,
	)

	events := collect(t, Driver{Adapter: AnthropicAdapter{}}.Stream(context.Background(), openString(body, 11)))
	assert.Equal(t, []domain.StreamEvent{
		domain.TextDelta("Creating"),
		domain.TextDelta(" it"),
		domain.ToolCallStart("toolu_1", "create_spreadsheet"),
		domain.ToolCallDelta("toolu_1", `{"name":`),
		domain.ToolCallDelta("toolu_1", `"Sheet1"}`),
		domain.ToolCallDone("toolu_1", "create_spreadsheet", map[string]any{"name": "Sheet1"}),
		domain.TextDone("Creating it"),
		domain.Finish(&domain.Usage{InputTokens: 25, OutputTokens: 42}),
	}, events)
}

func TestAnthropicParallelToolBlocks(t *testing.T) {
	body := anthropicSSE(
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_a","name":"get_artifact"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_b","name":"list_artifacts"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"kind\":\"sheet\"}"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"artifactId\":\"x\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_stop"}`,
	)

	events := collect(t, Driver{Adapter: AnthropicAdapter{}}.Stream(context.Background(), openString(body, 4)))
	done := map[string]map[string]any{}
	for _, ev := range events {
		if ev.Type == domain.EventToolCallDone {
			done[ev.ToolCallID] = ev.Args
		}
	}
	assert.Equal(t, map[string]any{"artifactId": "x"}, done["toolu_a"])
	assert.Equal(t, map[string]any{"kind": "sheet"}, done["toolu_b"])
	assertToolOrdering(t, events)
}

// --- Malformed Data Tests ---

func TestMalformedLinesAreSkipped(t *testing.T) {
	body := sse(
		`{"choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{not json`,
		`{"unexpected":true}`,
		`{"choices":[{"index":0,"delta":{"content":"b"}}]}`,
		`[DONE]`,
	)

	events := collect(t, openAI().Stream(context.Background(), openString(body, 9)))
	assert.Equal(t, []domain.StreamEvent{
		domain.TextDelta("a"),
		domain.TextDelta("b"),
		domain.TextDone("ab"),
		domain.Finish(nil),
	}, events)
}

func TestMalformedLineDoesNotSwallowNextDataLine(t *testing.T) {
	body := "data: {not json\n" +
		`data: {"choices":[{"index":0,"delta":{"content":"Hello"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	events := collect(t, openAI().Stream(context.Background(), openString(body, 7)))
	assert.Equal(t, []domain.StreamEvent{
		domain.TextDelta("Hello"),
		domain.TextDone("Hello"),
		domain.Finish(nil),
	}, events)
}

func TestEmitAfterCancelSendsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan domain.StreamEvent, 128)
	r := &run{ctx: ctx, out: out}

	for i := 0; i < 100; i++ {
		r.emit(domain.Finish(nil))
	}
	assert.Empty(t, out)
}

func TestInvalidToolArgsDropDone(t *testing.T) {
	body := sse(
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"update_cells","arguments":"{\"cells\":["}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	)

	events := collect(t, openAI().Stream(context.Background(), openString(body, 16)))
	assert.Equal(t, []domain.StreamEvent{
		domain.ToolCallStart("call_1", "update_cells"),
		domain.ToolCallDelta("call_1", `{"cells":[`),
		domain.Finish(nil),
	}, events)
}

func TestDeltaWithoutStartIsIgnored(t *testing.T) {
	body := sse(
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":3,"function":{"arguments":"{}"}}]}}]}`,
		`[DONE]`,
	)

	events := collect(t, openAI().Stream(context.Background(), openString(body, 64)))
	assert.Equal(t, []domain.StreamEvent{domain.Finish(nil)}, events)
}

func TestEOFWithoutDoneFinishes(t *testing.T) {
	body := `data: {"choices":[{"index":0,"delta":{"content":"partial"}}]}`

	events := collect(t, openAI().Stream(context.Background(), openString(body, 10)))
	assert.Equal(t, []domain.StreamEvent{
		domain.TextDelta("partial"),
		domain.TextDone("partial"),
		domain.Finish(nil),
	}, events)
}

// --- Error Tests ---

func TestOpenErrorBecomesSingleErrorEvent(t *testing.T) {
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return nil, retry.ParseAPIError("openai", 401, []byte(`{"error":{"message":"Incorrect API key provided: sk-abcdefgh12345678"}}`))
	}

	events := collect(t, openAI().Stream(context.Background(), open))
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].Type)
	assert.Contains(t, events[0].Error, "Incorrect API key provided")
	assert.NotContains(t, events[0].Error, "abcdefgh1234")
}

func TestReadErrorBecomesErrorEvent(t *testing.T) {
	open := func(ctx context.Context) (io.ReadCloser, error) {
		r := io.MultiReader(
			strings.NewReader(sse(`{"choices":[{"index":0,"delta":{"content":"Hi"}}]}`)),
			iotestErrReader{errors.New("connection reset by peer")},
		)
		return io.NopCloser(r), nil
	}

	events := collect(t, openAI().Stream(context.Background(), open))
	require.Len(t, events, 2)
	assert.Equal(t, domain.TextDelta("Hi"), events[0])
	assert.Equal(t, domain.EventError, events[1].Type)
	assert.Contains(t, events[1].Error, "connection reset")
}

func TestProviderErrorEvent(t *testing.T) {
	body := anthropicSSE(
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"x"}}`,
		`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"after"}}`,
	)

	events := collect(t, Driver{Adapter: AnthropicAdapter{}}.Stream(context.Background(), openString(body, 32)))
	require.Len(t, events, 2)
	assert.Equal(t, domain.Failure("anthropic stream error (overloaded_error): Overloaded"), events[1])
}

func TestPanicInAdapterBecomesError(t *testing.T) {
	events := collect(t, Driver{Adapter: panicAdapter{}}.Stream(context.Background(), openString(sse(`{}`), 8)))
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].Type)
	assert.Contains(t, events[0].Error, "panic in stream")
}

// --- Cancellation Tests ---

func TestCancelMidStreamIsSilent(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(`{"choices":[{"index":0,"delta":{"content":"Hello"}}]}`))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	open := func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	ch := openAI().Stream(ctx, open)
	first := <-ch
	assert.Equal(t, domain.TextDelta("Hello"), first)

	cancel()
	rest := collect(t, ch)
	for _, ev := range rest {
		assert.NotEqual(t, domain.EventError, ev.Type)
		assert.NotEqual(t, domain.EventFinish, ev.Type)
	}
}

func TestCancelBeforeOpenIsSilent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	open := func(ctx context.Context) (io.ReadCloser, error) {
		return nil, ctx.Err()
	}
	events := collect(t, openAI().Stream(ctx, open))
	assert.Empty(t, events)
}

func TestTimeoutIsReportedAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	open := func(ctx context.Context) (io.ReadCloser, error) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	d := Driver{Adapter: OpenAIAdapter{}, Timeout: 50 * time.Millisecond}
	events := collect(t, d.Stream(context.Background(), open))
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].Type)
}

// --- helpers ---

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

type panicAdapter struct{}

func (panicAdapter) Provider() string              { return "panic" }
func (panicAdapter) Parse(Event) ([]Signal, error) { panic("boom") }

// assertToolOrdering checks start -> delta* -> done per tool call id.
func assertToolOrdering(t *testing.T, events []domain.StreamEvent) {
	t.Helper()
	state := map[string]string{}
	for _, ev := range events {
		switch ev.Type {
		case domain.EventToolCallStart:
			assert.Empty(t, state[ev.ToolCallID], "duplicate start for %s", ev.ToolCallID)
			state[ev.ToolCallID] = "started"
		case domain.EventToolCallDelta:
			assert.Equal(t, "started", state[ev.ToolCallID], "delta outside start/done for %s", ev.ToolCallID)
		case domain.EventToolCallDone:
			assert.Equal(t, "started", state[ev.ToolCallID], "done without start for %s", ev.ToolCallID)
			state[ev.ToolCallID] = "done"
		}
	}
	for id, s := range state {
		assert.Equal(t, "done", s, "tool call %s not finished", id)
	}
}

func assertSingleTerminal(t *testing.T, events []domain.StreamEvent) {
	t.Helper()
	n := 0
	for i, ev := range events {
		if ev.IsTerminal() {
			n++
			assert.Equal(t, len(events)-1, i, "terminal event must be last")
		}
	}
	assert.Equal(t, 1, n)
}
