package stream

import (
	"errors"
	"fmt"

	"github.com/joss/sagi/internal/domain"
)

// ErrUnexpectedPayload marks a well-formed JSON payload that does not match
// the provider's event shapes. The driver skips it.
var ErrUnexpectedPayload = errors.New("unexpected stream payload")

// SignalKind is a provider-neutral stream action.
type SignalKind int

const (
	// SignalText carries a text fragment in Text.
	SignalText SignalKind = iota + 1
	// SignalToolStart opens tool call Key with ID and Name.
	SignalToolStart
	// SignalToolDelta appends Text to the arguments of tool call Key.
	SignalToolDelta
	// SignalToolStop finalizes tool call Key.
	SignalToolStop
	// SignalToolFlush finalizes every open tool call.
	SignalToolFlush
	// SignalUsage reports token usage; zero fields are left unchanged.
	SignalUsage
	// SignalEnd is the provider's terminal marker.
	SignalEnd
	// SignalError is an error reported inside the stream.
	SignalError
)

// Signal is produced by an Adapter for each SSE event.
type Signal struct {
	Kind  SignalKind
	Key   string
	ID    string
	Name  string
	Text  string
	Usage *domain.Usage
	Err   error
}

// Adapter translates one provider's SSE events into signals. A returned
// error means the payload was malformed and is skipped.
type Adapter interface {
	Provider() string
	Parse(ev Event) ([]Signal, error)
}

// ProviderError is an error event sent inside an otherwise healthy stream.
type ProviderError struct {
	Provider string
	Type     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s stream error (%s): %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s stream error: %s", e.Provider, e.Message)
}
