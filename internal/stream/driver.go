package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/logging"
	"github.com/joss/sagi/internal/retry"
)

// Opener starts the upstream request and returns its body.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Driver runs one provider stream through an Adapter.
type Driver struct {
	Adapter Adapter
	// Timeout bounds the whole request including reading the body.
	// Zero means no timeout beyond the caller's context.
	Timeout time.Duration
	// Buffer is the event channel capacity. Default 64.
	Buffer int
}

const readChunkSize = 32 << 10

// Stream opens the request and emits normalized events in order. The
// channel is closed after exactly one finish or error event, or without a
// terminal event when ctx is cancelled.
func (d Driver) Stream(ctx context.Context, open Opener) <-chan domain.StreamEvent {
	size := d.Buffer
	if size <= 0 {
		size = 64
	}
	out := make(chan domain.StreamEvent, size)

	go func() {
		defer close(out)

		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if d.Timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		}
		defer cancel()

		r := &run{
			ctx:     ctx,
			out:     out,
			adapter: d.Adapter,
			calls:   make(map[string]*toolCall),
			log:     logging.New("stream"),
			started: time.Now(),
		}
		err := logging.NewRecoveryHandler("stream").WrapError(func() error {
			return r.pump(reqCtx, open)
		})
		if err != nil {
			r.fail(err)
		}
	}()
	return out
}

type toolCall struct {
	id   string
	name string
	args Accumulator
	done bool
}

// run is the state of one stream. It is owned by a single goroutine.
type run struct {
	ctx        context.Context
	out        chan<- domain.StreamEvent
	adapter    Adapter
	calls      map[string]*toolCall
	order      []*toolCall
	text       strings.Builder
	usage      domain.Usage
	terminated bool
	log        *logging.Logger
	started    time.Time
}

func (r *run) pump(ctx context.Context, open Opener) error {
	body, err := open(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	var lines LineReader
	parser := Parser{PerLine: true}
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				if ev, ok := parser.Line(line); ok && r.handle(ev) {
					return nil
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			if line, ok := lines.Flush(); ok {
				if ev, ok := parser.Line(line); ok && r.handle(ev) {
					return nil
				}
			}
			if ev, ok := parser.Flush(); ok && r.handle(ev) {
				return nil
			}
			r.end()
			return nil
		}
		if readErr != nil {
			return readErr
		}
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
	}
}

// handle applies one SSE event and reports whether the stream terminated.
func (r *run) handle(ev Event) bool {
	signals, err := r.adapter.Parse(ev)
	if err != nil {
		r.log.Debug("payload_skipped", map[string]interface{}{
			"provider": r.adapter.Provider(),
			"event":    ev.Name,
			"reason":   err.Error(),
		})
		return false
	}

	for _, s := range signals {
		switch s.Kind {
		case SignalText:
			r.text.WriteString(s.Text)
			r.emit(domain.TextDelta(s.Text))
		case SignalToolStart:
			r.startTool(s)
		case SignalToolDelta:
			r.appendTool(s)
		case SignalToolStop:
			if c, ok := r.calls[s.Key]; ok {
				r.finalize(c)
			}
		case SignalToolFlush:
			r.flushTools()
		case SignalUsage:
			if s.Usage.InputTokens > 0 {
				r.usage.InputTokens = s.Usage.InputTokens
			}
			if s.Usage.OutputTokens > 0 {
				r.usage.OutputTokens = s.Usage.OutputTokens
			}
		case SignalEnd:
			r.end()
			return true
		case SignalError:
			r.fail(s.Err)
			return true
		}
		if r.terminated {
			return true
		}
	}
	return false
}

func (r *run) startTool(s Signal) {
	if c, ok := r.calls[s.Key]; ok && !c.done {
		// repeated id/name on later deltas of the same call
		return
	}
	if s.Name == "" {
		r.log.Debug("tool_start_without_name", map[string]interface{}{"key": s.Key})
		return
	}
	id := s.ID
	if id == "" {
		id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}
	c := &toolCall{id: id, name: s.Name}
	r.calls[s.Key] = c
	r.order = append(r.order, c)
	r.emit(domain.ToolCallStart(c.id, c.name))
}

func (r *run) appendTool(s Signal) {
	c, ok := r.calls[s.Key]
	if !ok || c.done {
		r.log.Debug("tool_delta_without_start", map[string]interface{}{"key": s.Key})
		return
	}
	c.args.Append(s.Text)
	r.emit(domain.ToolCallDelta(c.id, s.Text))
}

func (r *run) finalize(c *toolCall) {
	if c.done {
		return
	}
	c.done = true
	args, err := c.args.Finalize()
	if err != nil {
		r.log.Debug("tool_args_dropped", map[string]interface{}{
			"tool":  c.name,
			"id":    c.id,
			"bytes": c.args.Len(),
		})
		return
	}
	r.emit(domain.ToolCallDone(c.id, c.name, args))
}

func (r *run) flushTools() {
	for _, c := range r.order {
		r.finalize(c)
	}
}

// end emits the successful terminal sequence.
func (r *run) end() {
	if r.terminated || r.ctx.Err() != nil {
		r.terminated = true
		return
	}
	r.flushTools()
	if r.text.Len() > 0 {
		r.emit(domain.TextDone(r.text.String()))
	}
	var usage *domain.Usage
	if !r.usage.IsZero() {
		u := r.usage
		usage = &u
	}
	r.emit(domain.Finish(usage))
	r.terminated = true
	r.log.TimedEvent("stream_finished", r.started, map[string]interface{}{
		"provider":   r.adapter.Provider(),
		"tool_calls": len(r.order),
	})
}

// fail emits the error terminal event unless the caller cancelled.
func (r *run) fail(err error) {
	if r.terminated {
		return
	}
	if r.ctx.Err() != nil {
		r.terminated = true
		return
	}
	msg := retry.UserMessage(err)
	r.emit(domain.Failure(msg))
	r.terminated = true
	r.log.Warn("stream_failed", map[string]interface{}{
		"provider": r.adapter.Provider(),
	}, err)
}

// emit sends ev unless the stream terminated or the caller cancelled.
// Cancellation wins over free buffer space.
func (r *run) emit(ev domain.StreamEvent) {
	if r.terminated {
		return
	}
	select {
	case <-r.ctx.Done():
		return
	default:
	}
	select {
	case r.out <- ev:
	case <-r.ctx.Done():
	}
}
