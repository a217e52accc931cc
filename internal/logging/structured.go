// Package logging provides structured JSON logging for sagi components.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	l := Level(s)
	if _, ok := levelRank[l]; ok {
		return l
	}
	return LevelInfo
}

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Chat      string                 `json:"chat,omitempty"`
	Request   string                 `json:"request,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

var (
	outMu    sync.Mutex
	out      io.Writer = os.Stderr
	minLevel           = LevelInfo
)

// SetOutput redirects all loggers. Passing nil discards output.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if w == nil {
		w = io.Discard
	}
	out = w
}

// SetLevel sets the minimum level written by all loggers.
func SetLevel(l Level) {
	outMu.Lock()
	defer outMu.Unlock()
	minLevel = ParseLevel(string(l))
}

// Logger provides structured logging
type Logger struct {
	component string
	chat      string
	request   string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithChat sets the chat context
func (l *Logger) WithChat(chatID string) *Logger {
	return &Logger{
		component: l.component,
		chat:      chatID,
		request:   l.request,
	}
}

// WithRequest sets the request id context
func (l *Logger) WithRequest(requestID string) *Logger {
	return &Logger{
		component: l.component,
		chat:      l.chat,
		request:   requestID,
	}
}

func (l *Logger) write(e Event) {
	outMu.Lock()
	defer outMu.Unlock()
	if levelRank[e.Level] < levelRank[minLevel] {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		data, _ = json.Marshal(Event{
			Timestamp: e.Timestamp,
			Level:     LevelError,
			Component: e.Component,
			Event:     "log_marshal_failed",
			Error:     err.Error(),
		})
	}
	fmt.Fprintln(out, string(data))
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Chat:      l.chat,
		Request:   l.request,
		Extra:     RedactMap(extra),
	}
	if err != nil {
		e.Error = RedactText(err.Error())
	}
	l.write(e)
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	l.write(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     LevelInfo,
		Component: l.component,
		Event:     event,
		Chat:      l.chat,
		Request:   l.request,
		Duration:  time.Since(start).Milliseconds(),
		Extra:     RedactMap(extra),
	})
}
