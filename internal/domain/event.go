// Package domain defines the types shared by the streaming, permission and
// agent packages.
package domain

// StreamEventType discriminates StreamEvent.
type StreamEventType string

const (
	EventTextDelta         StreamEventType = "text-delta"
	EventTextDone          StreamEventType = "text-done"
	EventToolCallStart     StreamEventType = "tool-call-start"
	EventToolCallDelta     StreamEventType = "tool-call-delta"
	EventToolCallDone      StreamEventType = "tool-call-done"
	EventToolResult        StreamEventType = "tool-result"
	EventPermissionRequest StreamEventType = "permission-request"
	EventFinish            StreamEventType = "finish"
	EventError             StreamEventType = "error"
)

// StreamEvent is the wire contract between the agent loop and the UI.
// Only the fields relevant to Type are set.
type StreamEvent struct {
	Type       StreamEventType    `json:"type"`
	Delta      string             `json:"delta,omitempty"`
	Text       string             `json:"text,omitempty"`
	ToolCallID string             `json:"toolCallId,omitempty"`
	ToolName   string             `json:"toolName,omitempty"`
	ArgsDelta  string             `json:"argsDelta,omitempty"`
	Args       map[string]any     `json:"args,omitempty"`
	Result     any                `json:"result,omitempty"`
	Usage      *Usage             `json:"usage,omitempty"`
	Error      string             `json:"error,omitempty"`
	Permission *PermissionRequest `json:"permission,omitempty"`
}

// PermissionRequest asks the UI to approve or deny a pending tool call.
// The UI answers through permissions.approveCommand / denyCommand with Command.
type PermissionRequest struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
	Reason    string `json:"reason,omitempty"`
}

// IsTerminal reports whether the event ends a stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventFinish || e.Type == EventError
}

func TextDelta(delta string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Delta: delta}
}

func TextDone(text string) StreamEvent {
	return StreamEvent{Type: EventTextDone, Text: text}
}

func ToolCallStart(id, name string) StreamEvent {
	return StreamEvent{Type: EventToolCallStart, ToolCallID: id, ToolName: name}
}

func ToolCallDelta(id, argsDelta string) StreamEvent {
	return StreamEvent{Type: EventToolCallDelta, ToolCallID: id, ArgsDelta: argsDelta}
}

func ToolCallDone(id, name string, args map[string]any) StreamEvent {
	return StreamEvent{Type: EventToolCallDone, ToolCallID: id, ToolName: name, Args: args}
}

func ToolResult(id string, result any) StreamEvent {
	return StreamEvent{Type: EventToolResult, ToolCallID: id, Result: result}
}

func PermissionAsk(id, name string, req PermissionRequest) StreamEvent {
	return StreamEvent{Type: EventPermissionRequest, ToolCallID: id, ToolName: name, Permission: &req}
}

// Finish builds the terminal success event. usage may be nil.
func Finish(usage *Usage) StreamEvent {
	return StreamEvent{Type: EventFinish, Usage: usage}
}

// Failure builds the terminal error event.
func Failure(message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: message}
}
