// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds runtime counters for the agent core.
type Metrics struct {
	// Streams
	StreamsStarted   atomic.Int64
	StreamsFinished  atomic.Int64
	StreamsFailed    atomic.Int64
	StreamsCancelled atomic.Int64
	ActiveStreams    atomic.Int64
	ProviderRetries  atomic.Int64

	// Tools and permissions
	ToolCalls          atomic.Int64
	ToolErrors         atomic.Int64
	ApprovalsRequested atomic.Int64
	ApprovalsGranted   atomic.Int64
	ApprovalsDenied    atomic.Int64
	BlockedCommands    atomic.Int64

	// Timing (last operation duration in ms)
	LastStreamDurationMs atomic.Int64

	startTime time.Time
}

// Stream outcomes accepted by RecordStreamEnd.
const (
	OutcomeFinished  = "finished"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

var (
	global     *Metrics
	globalOnce sync.Once
)

// New returns an empty Metrics.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// RecordStreamStart counts a new chat turn.
func (m *Metrics) RecordStreamStart() {
	m.StreamsStarted.Add(1)
	m.ActiveStreams.Add(1)
}

// RecordStreamEnd counts how a chat turn ended.
func (m *Metrics) RecordStreamEnd(outcome string, duration time.Duration) {
	m.ActiveStreams.Add(-1)
	switch outcome {
	case OutcomeFinished:
		m.StreamsFinished.Add(1)
	case OutcomeFailed:
		m.StreamsFailed.Add(1)
	case OutcomeCancelled:
		m.StreamsCancelled.Add(1)
	}
	m.LastStreamDurationMs.Store(duration.Milliseconds())
}

// RecordRetry counts a retried provider request.
func (m *Metrics) RecordRetry() {
	m.ProviderRetries.Add(1)
}

// RecordToolCall counts an executed tool.
func (m *Metrics) RecordToolCall(failed bool) {
	m.ToolCalls.Add(1)
	if failed {
		m.ToolErrors.Add(1)
	}
}

// RecordApprovalRequest counts a permission prompt sent to the UI.
func (m *Metrics) RecordApprovalRequest() {
	m.ApprovalsRequested.Add(1)
}

// RecordApproval counts the answer to a permission prompt.
func (m *Metrics) RecordApproval(granted bool) {
	if granted {
		m.ApprovalsGranted.Add(1)
	} else {
		m.ApprovalsDenied.Add(1)
	}
}

// RecordBlocked counts a command refused by the safety filter.
func (m *Metrics) RecordBlocked() {
	m.BlockedCommands.Add(1)
}

type metric struct {
	name, help, kind string
	value            func() int64
}

func (m *Metrics) all() []metric {
	return []metric{
		{"sagi_streams_started_total", "Total chat turns started", "counter", m.StreamsStarted.Load},
		{"sagi_streams_finished_total", "Total chat turns that finished", "counter", m.StreamsFinished.Load},
		{"sagi_streams_failed_total", "Total chat turns that ended with an error", "counter", m.StreamsFailed.Load},
		{"sagi_streams_cancelled_total", "Total chat turns cancelled by the client", "counter", m.StreamsCancelled.Load},
		{"sagi_streams_active", "Chat turns in progress", "gauge", m.ActiveStreams.Load},
		{"sagi_provider_retries_total", "Total retried provider requests", "counter", m.ProviderRetries.Load},
		{"sagi_tool_calls_total", "Total executed tool calls", "counter", m.ToolCalls.Load},
		{"sagi_tool_errors_total", "Total tool calls that failed", "counter", m.ToolErrors.Load},
		{"sagi_approvals_requested_total", "Total permission prompts", "counter", m.ApprovalsRequested.Load},
		{"sagi_approvals_granted_total", "Total approved permission prompts", "counter", m.ApprovalsGranted.Load},
		{"sagi_approvals_denied_total", "Total denied permission prompts", "counter", m.ApprovalsDenied.Load},
		{"sagi_blocked_commands_total", "Total commands refused by the safety filter", "counter", m.BlockedCommands.Load},
		{"sagi_last_stream_duration_ms", "Duration of the last chat turn", "gauge", m.LastStreamDurationMs.Load},
	}
}

// Handler returns an HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(w, "# HELP sagi_uptime_seconds Time since start\n")
		fmt.Fprintf(w, "# TYPE sagi_uptime_seconds gauge\n")
		fmt.Fprintf(w, "sagi_uptime_seconds %.2f\n", time.Since(m.startTime).Seconds())

		for _, mt := range m.all() {
			fmt.Fprintf(w, "\n# HELP %s %s\n", mt.name, mt.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", mt.name, mt.kind)
			fmt.Fprintf(w, "%s %d\n", mt.name, mt.value())
		}
	}
}
