// Package stream normalizes provider server-sent event streams into
// domain.StreamEvent sequences.
package stream

import (
	"bytes"
	"strings"
)

// LineReader reassembles lines from arbitrarily split chunks. The trailing
// partial line of each chunk is kept until the next Feed.
type LineReader struct {
	tail []byte
}

// Feed appends chunk and returns every complete line, without the line
// terminator.
func (r *LineReader) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	r.tail = append(r.tail, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(r.tail, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(r.tail[:i], []byte{'\r'})))
		r.tail = r.tail[i+1:]
	}
	if len(r.tail) == 0 {
		r.tail = nil
	}
	return lines
}

// Flush returns the retained partial line, if any, and resets the reader.
func (r *LineReader) Flush() (string, bool) {
	if len(r.tail) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(r.tail, []byte{'\r'}))
	r.tail = nil
	return line, true
}

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	Data string
}

// Parser turns lines into events: "event:" names the event, "data:" lines
// are joined with "\n", comments are ignored and a blank line dispatches.
//
// With PerLine set every "data:" line is dispatched on its own under the
// current event name, so one malformed payload cannot swallow the next.
// Provider streams carry one JSON document per data line.
type Parser struct {
	PerLine bool

	name    string
	data    strings.Builder
	hasData bool
}

// Line consumes one line and returns an event when the line dispatches one.
func (p *Parser) Line(line string) (Event, bool) {
	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return Event{}, false
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "event":
		p.name = value
	case "data":
		if p.PerLine {
			return Event{Name: p.name, Data: value}, true
		}
		if p.hasData {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(value)
		p.hasData = true
	}
	return Event{}, false
}

// Flush dispatches a pending event at end of stream.
func (p *Parser) Flush() (Event, bool) {
	return p.dispatch()
}

func (p *Parser) dispatch() (Event, bool) {
	if !p.hasData {
		p.name = ""
		return Event{}, false
	}
	ev := Event{Name: p.name, Data: p.data.String()}
	p.name = ""
	p.data.Reset()
	p.hasData = false
	return ev, true
}
