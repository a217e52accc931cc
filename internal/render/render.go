// Package render formats stream events and permission state for the
// terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/joss/sagi/internal/domain"
	sagistrings "github.com/joss/sagi/internal/strings"
)

// Renderer writes chat events as they arrive. Text deltas are echoed
// immediately unless markdown rendering is on, in which case the text of
// each round is rendered once complete.
type Renderer struct {
	out      io.Writer
	pretty   bool
	markdown *glamour.TermRenderer
	inText   bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithPretty enables colors and symbols.
func WithPretty(pretty bool) Option {
	return func(r *Renderer) {
		r.pretty = pretty
	}
}

// WithMarkdown renders assistant text through glamour at the given width.
func WithMarkdown(width int) Option {
	return func(r *Renderer) {
		opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
		if width > 0 {
			opts = append(opts, glamour.WithWordWrap(width))
		}
		if md, err := glamour.NewTermRenderer(opts...); err == nil {
			r.markdown = md
		}
	}
}

func New(out io.Writer, opts ...Option) *Renderer {
	r := &Renderer{out: out}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Event writes one stream event.
func (r *Renderer) Event(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.EventTextDelta:
		if r.markdown == nil {
			fmt.Fprint(r.out, ev.Delta)
			r.inText = true
		}
	case domain.EventTextDone:
		if r.markdown != nil {
			if out, err := r.markdown.Render(ev.Text); err == nil {
				fmt.Fprint(r.out, out)
				return
			}
			fmt.Fprint(r.out, ev.Text)
		}
		r.endText()
	case domain.EventToolCallStart:
		r.endText()
		fmt.Fprintf(r.out, "%s %s\n", r.paint(color.CyanString, "⚙"), r.paint(color.New(color.Bold).Sprintf, ev.ToolName))
	case domain.EventToolCallDone:
		fmt.Fprintf(r.out, "  %s\n", r.paint(color.HiBlackString, formatArgs(ev.Args)))
	case domain.EventToolResult:
		r.toolResult(ev.Result)
	case domain.EventPermissionRequest:
		r.endText()
		cmd := ""
		if ev.Permission != nil {
			cmd = ev.Permission.Command
		}
		fmt.Fprintf(r.out, "%s %s wants to run: %s\n", r.paint(color.YellowString, "?"), ev.ToolName, cmd)
	case domain.EventFinish:
		r.endText()
		if ev.Usage != nil && r.pretty {
			fmt.Fprintln(r.out, color.HiBlackString("tokens: %d in, %d out", ev.Usage.InputTokens, ev.Usage.OutputTokens))
		}
	case domain.EventError:
		r.endText()
		fmt.Fprintf(r.out, "%s %s\n", r.paint(color.RedString, "✗"), ev.Error)
	}
}

func (r *Renderer) endText() {
	if r.inText {
		fmt.Fprintln(r.out)
		r.inText = false
	}
}

// toolResult accepts a *tool.Result or its decoded JSON map.
func (r *Renderer) toolResult(result any) {
	var decoded struct {
		Output  string `json:"output"`
		IsError bool   `json:"isError"`
	}
	if data, err := json.Marshal(result); err == nil {
		json.Unmarshal(data, &decoded)
	}

	mark := r.paint(color.GreenString, "✓")
	if decoded.IsError {
		mark = r.paint(color.RedString, "✗")
	}
	fmt.Fprintf(r.out, "  %s %s\n", mark, sagistrings.Truncate(firstLine(decoded.Output), 120))
}

// Decision writes a permission check result.
func (r *Renderer) Decision(d domain.Decision) {
	switch {
	case d.Allowed:
		fmt.Fprintf(r.out, "%s allowed\n", r.paint(color.GreenString, "✓"))
	case d.Blocked:
		fmt.Fprintf(r.out, "%s blocked: %s\n", r.paint(color.RedString, "✗"), d.Reason)
	case d.RequiresConfirmation:
		fmt.Fprintf(r.out, "%s requires confirmation: %s\n", r.paint(color.YellowString, "?"), d.Reason)
	default:
		fmt.Fprintf(r.out, "%s denied: %s\n", r.paint(color.RedString, "✗"), d.Reason)
	}
}

// Modes lists the permission modes, marking current.
func (r *Renderer) Modes(current domain.PermissionMode) {
	for _, m := range domain.Modes {
		info := m.Info()
		marker := " "
		if m == current {
			marker = r.paint(color.GreenString, "*")
		}
		fmt.Fprintf(r.out, "%s %-10s %s\n", marker, m, r.paint(color.HiBlackString, info.Description))
	}
}

// Summary writes a session's permission state.
func (r *Renderer) Summary(sessionID string, s domain.Summary, approved, denied []string) {
	fmt.Fprintf(r.out, "%s %s\n", r.paint(color.CyanString, "session"), sessionID)
	fmt.Fprintf(r.out, "  mode: %s\n", s.Mode)
	writeList(r.out, "approved", approved)
	writeList(r.out, "denied", denied)
}

func writeList(w io.Writer, label string, items []string) {
	sort.Strings(items)
	fmt.Fprintf(w, "  %s (%d)\n", label, len(items))
	for _, it := range items {
		fmt.Fprintf(w, "    - %s\n", it)
	}
}

func (r *Renderer) paint(fn func(format string, a ...interface{}) string, s string) string {
	if !r.pretty {
		return s
	}
	return fn("%s", s)
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "(no arguments)"
	}
	return sagistrings.TruncateMap(args, 160)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
