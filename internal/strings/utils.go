// Package strings provides common string utilities.
package strings

import (
	"fmt"
	"sort"
	"strings"
)

// TruncateMap formats a map[string]any as "key=value, ..." with max length.
// Keys are sorted so the output is stable. Used for tool argument display.
func TruncateMap(args map[string]any, maxLen int) string {
	if args == nil {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return Truncate(strings.Join(parts, ", "), maxLen)
}

// Truncate shortens a string to n characters with ellipsis.
// If n < 4, uses n = 4 to ensure room for "...".
func Truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// TruncateMiddle keeps the head and tail of s, eliding the middle, so that
// both the start and the end of long command output stay visible.
func TruncateMiddle(s string, n int) string {
	if n < 16 || len(s) <= n {
		return Truncate(s, n)
	}
	marker := fmt.Sprintf("\n... [%d chars truncated] ...\n", len(s)-n)
	half := (n - len(marker)) / 2
	if half <= 0 {
		return Truncate(s, n)
	}
	return s[:half] + marker + s[len(s)-half:]
}
