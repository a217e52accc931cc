package domain

import "fmt"

// PermissionMode controls how bash commands and mutating tools are gated.
type PermissionMode string

const (
	// ModeSafe denies mutating actions unless previously approved.
	ModeSafe PermissionMode = "safe"
	// ModeAsk requires confirmation for each new command.
	ModeAsk PermissionMode = "ask"
	// ModeAllowAll approves everything that is not blocked.
	ModeAllowAll PermissionMode = "allow-all"
)

// Modes lists every mode in UI order.
var Modes = []PermissionMode{ModeSafe, ModeAsk, ModeAllowAll}

// ParseMode validates a mode string.
func ParseMode(s string) (PermissionMode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown permission mode %q", s)
}

// ModeInfo describes a mode for display.
type ModeInfo struct {
	Mode        PermissionMode `json:"mode"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
}

var modeInfo = map[PermissionMode]ModeInfo{
	ModeSafe: {
		Mode:        ModeSafe,
		Label:       "Safe",
		Description: "Only read-only tools run. Commands and edits are blocked unless approved for this chat.",
	},
	ModeAsk: {
		Mode:        ModeAsk,
		Label:       "Ask",
		Description: "Every new command or edit asks for confirmation before running.",
	},
	ModeAllowAll: {
		Mode:        ModeAllowAll,
		Label:       "Allow all",
		Description: "Commands and edits run without confirmation. Dangerous commands are still blocked.",
	},
}

// Info returns display information for the mode.
func (m PermissionMode) Info() ModeInfo {
	return modeInfo[m]
}

// Decision is the result of a permission check.
type Decision struct {
	Allowed              bool   `json:"allowed"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
	Blocked              bool   `json:"blocked,omitempty"`
	Reason               string `json:"reason,omitempty"`
}

// Summary reports the permission state of one session.
type Summary struct {
	Mode          PermissionMode `json:"mode"`
	ApprovedCount int            `json:"approvedCount"`
	DeniedCount   int            `json:"deniedCount"`
}
