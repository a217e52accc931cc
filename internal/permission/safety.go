package permission

import (
	"fmt"
	"regexp"
	"strings"
)

// RiskLevel indicates the danger level of a command.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskWarning
	RiskBlocked
)

// RiskResult contains the analysis of a command's risk.
type RiskResult struct {
	Level       RiskLevel
	Reason      string
	Alternative string
}

// Pattern defines a dangerous command pattern.
type Pattern struct {
	Regex       *regexp.Regexp
	Level       RiskLevel
	Reason      string
	Alternative string
}

// Safety filters dangerous commands. Blocked commands are refused in every
// permission mode.
type Safety struct {
	patterns []Pattern
}

// NewSafety creates a filter with the default patterns plus extra.
func NewSafety(extra ...Pattern) *Safety {
	return &Safety{
		patterns: append(defaultPatterns(), extra...),
	}
}

// BlockPatterns compiles configured regular expressions into blocked
// patterns.
func BlockPatterns(exprs ...string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("blocked command %q: %w", expr, err)
		}
		patterns = append(patterns, Pattern{
			Regex:  re,
			Level:  RiskBlocked,
			Reason: "blocked by configuration",
		})
	}
	return patterns, nil
}

func defaultPatterns() []Pattern {
	return []Pattern{
		// Filesystem destruction
		{
			Regex:       regexp.MustCompile(`rm\s+(-[rf]+\s+)*(/|/\*|\.\.|~)(\s|$)`),
			Level:       RiskBlocked,
			Reason:      "destructive filesystem operation on a critical path",
			Alternative: "be specific: rm -rf ./specific-directory",
		},
		{
			Regex:  regexp.MustCompile(`mkfs(\.\w+)?\s`),
			Level:  RiskBlocked,
			Reason: "filesystem formatting is blocked",
		},
		{
			Regex:  regexp.MustCompile(`dd\s+.*of=/dev/`),
			Level:  RiskBlocked,
			Reason: "direct device write is blocked",
		},
		{
			Regex:  regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};\s*:`),
			Level:  RiskBlocked,
			Reason: "fork bomb",
		},
		{
			Regex:  regexp.MustCompile(`chmod\s+(-R\s+)?777\s+/(\s|$)`),
			Level:  RiskBlocked,
			Reason: "recursive permission change on root",
		},

		// Git history
		{
			Regex:       regexp.MustCompile(`git\s+push\s+.*--force(\s|$)`),
			Level:       RiskBlocked,
			Reason:      "force push destroys remote history",
			Alternative: "use: git push --force-with-lease",
		},
		{
			Regex:       regexp.MustCompile(`git\s+reset\s+--hard`),
			Level:       RiskWarning,
			Reason:      "hard reset discards uncommitted changes",
			Alternative: "consider git stash first",
		},

		// Databases
		{
			Regex:  regexp.MustCompile(`(?i)DROP\s+DATABASE`),
			Level:  RiskBlocked,
			Reason: "DROP DATABASE is blocked",
		},
		{
			Regex:       regexp.MustCompile(`(?i)DELETE\s+FROM\s+\w+\s*(;|$)`),
			Level:       RiskWarning,
			Reason:      "DELETE without WHERE clause affects all rows",
			Alternative: "add a WHERE clause",
		},

		// Credentials
		{
			Regex:  regexp.MustCompile(`git\s+add\s+.*(\.env|id_rsa|id_ed25519|\.pem|\.key)(\s|$)`),
			Level:  RiskBlocked,
			Reason: "secrets must never be committed",
		},
		{
			Regex:  regexp.MustCompile(`cat\s+.*(id_rsa|id_ed25519|\.pem|credentials)`),
			Level:  RiskWarning,
			Reason: "displays sensitive file contents",
		},

		// Network
		{
			Regex:       regexp.MustCompile(`(curl|wget)\s+.*\|\s*(sudo\s+)?(bash|sh|zsh)`),
			Level:       RiskWarning,
			Reason:      "piping a download to a shell",
			Alternative: "download first, inspect, then execute",
		},
		{
			Regex:  regexp.MustCompile(`(^|\s)(shutdown|reboot|halt)(\s|$)`),
			Level:  RiskWarning,
			Reason: "stops the machine",
		},
	}
}

// Analyze checks a command against safety patterns. The most severe match
// wins; among equals the earliest pattern is reported.
func (s *Safety) Analyze(command string) RiskResult {
	cmd := strings.TrimSpace(command)

	result := RiskResult{Level: RiskSafe}
	for _, p := range s.patterns {
		if p.Level > result.Level && p.Regex.MatchString(cmd) {
			result = RiskResult{
				Level:       p.Level,
				Reason:      p.Reason,
				Alternative: p.Alternative,
			}
		}
	}
	return result
}
