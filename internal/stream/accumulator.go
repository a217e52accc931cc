package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports tool arguments that did not form a JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid tool arguments %q: %v", truncateRaw(e.Raw), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Accumulator collects streamed JSON fragments for one tool call and parses
// them once the call is complete.
type Accumulator struct {
	buf strings.Builder
}

// Append adds a fragment.
func (a *Accumulator) Append(fragment string) {
	a.buf.WriteString(fragment)
}

// Raw returns the text accumulated so far.
func (a *Accumulator) Raw() string {
	return a.buf.String()
}

// Len returns the accumulated length in bytes.
func (a *Accumulator) Len() int {
	return a.buf.Len()
}

// Finalize parses the buffer as a JSON object. An empty buffer is an empty
// object, since tools without parameters stream no argument text.
func (a *Accumulator) Finalize() (map[string]any, error) {
	raw := strings.TrimSpace(a.buf.String())
	if raw == "" {
		return map[string]any{}, nil
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("got %T, want object", v)}
	}
	return obj, nil
}

func truncateRaw(s string) string {
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
