package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/sagi/internal/domain"
	sagistrings "github.com/joss/sagi/internal/strings"
)

// DefaultSafeTools are glob patterns of tool names that never mutate state.
var DefaultSafeTools = []string{"get_*", "list_*", "read_*", "search_*"}

// Classifier decides whether a bash command or tool call may run for a
// session, using the session state held in a Store.
type Classifier struct {
	store     *Store
	safety    *Safety
	safeTools []string
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithSafeTools replaces the read-only tool patterns.
func WithSafeTools(patterns ...string) ClassifierOption {
	return func(c *Classifier) {
		c.safeTools = patterns
	}
}

// WithSafety replaces the dangerous command filter.
func WithSafety(s *Safety) ClassifierOption {
	return func(c *Classifier) {
		c.safety = s
	}
}

func NewClassifier(store *Store, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		store:     store,
		safety:    NewSafety(),
		safeTools: DefaultSafeTools,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the backing store.
func (c *Classifier) Store() *Store {
	return c.store
}

// CheckBash classifies a shell command.
func (c *Classifier) CheckBash(sessionID, command string) domain.Decision {
	command = NormalizeCommand(command)
	if command == "" {
		return domain.Decision{Reason: "empty command"}
	}

	risk := c.safety.Analyze(command)
	if risk.Level == RiskBlocked {
		reason := "blocked: " + risk.Reason
		if risk.Alternative != "" {
			reason += " (" + risk.Alternative + ")"
		}
		return domain.Decision{Blocked: true, Reason: reason}
	}

	mode, denied, approved := c.store.lookup(sessionID, command)
	label := "bash command: " + sagistrings.Truncate(command, 60)
	switch {
	case denied:
		return domain.Decision{Reason: "denied for this session: " + label}
	case approved:
		return domain.Decision{Allowed: true}
	}

	switch mode {
	case domain.ModeAllowAll:
		if risk.Level == RiskWarning {
			return domain.Decision{Allowed: true, Reason: "warning: " + risk.Reason}
		}
		return domain.Decision{Allowed: true}
	case domain.ModeAsk:
		return domain.Decision{RequiresConfirmation: true, Reason: label}
	default:
		return domain.Decision{Reason: "safe mode: " + label + " is not approved"}
	}
}

// CheckTool classifies a tool call. Read-only tools are always allowed;
// other tools are keyed by name and a hash of their arguments, and a bare
// "tool:<name>" approval covers every argument set.
func (c *Classifier) CheckTool(sessionID, toolName string, args map[string]any) domain.Decision {
	if c.IsReadOnly(toolName) {
		return domain.Decision{Allowed: true}
	}

	mode, denied, approved := c.store.lookup(sessionID, ToolKey(toolName, args), ToolKey(toolName, nil))
	label := "tool call: " + toolName
	switch {
	case denied:
		return domain.Decision{Reason: "denied for this session: " + label}
	case approved:
		return domain.Decision{Allowed: true}
	}

	switch mode {
	case domain.ModeAllowAll:
		return domain.Decision{Allowed: true}
	case domain.ModeAsk:
		return domain.Decision{RequiresConfirmation: true, Reason: label}
	default:
		return domain.Decision{Reason: "safe mode: " + label + " is not approved"}
	}
}

// IsReadOnly reports whether toolName matches a safe tool pattern.
func (c *Classifier) IsReadOnly(toolName string) bool {
	for _, pattern := range c.safeTools {
		if ok, err := doublestar.Match(pattern, toolName); err == nil && ok {
			return true
		}
	}
	return false
}

// ToolKey returns the approval key for a tool call. With no args the key
// names the tool alone.
func ToolKey(toolName string, args map[string]any) string {
	if len(args) == 0 {
		return "tool:" + toolName
	}
	return fmt.Sprintf("tool:%s:%s", toolName, hashArgs(args))
}

// hashArgs returns the first 16 hex chars of sha256 over the canonical JSON
// encoding of args. encoding/json sorts map keys, so equal maps hash equal.
func hashArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(strings.TrimSpace(fmt.Sprint(args)))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
