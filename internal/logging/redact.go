package logging

import (
	"fmt"
	"regexp"
	"strings"
)

var secretKeys = map[string]bool{
	"api_key":           true,
	"apikey":            true,
	"authorization":     true,
	"x-api-key":         true,
	"openai_api_key":    true,
	"anthropic_api_key": true,
	"zai_api_key":       true,
	"token":             true,
	"secret":            true,
	"password":          true,
}

// secretPatterns match credentials embedded in free text such as provider
// error bodies. Group 1 is kept, group 2 is masked.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-]{8,})`),
	regexp.MustCompile(`(?i)((?:x-api-key|api[_-]?key|apikey|access_token|token)["']?\s*[:=]\s*["']?)([A-Za-z0-9._\-]{8,})`),
	regexp.MustCompile(`()(sk-(?:ant-|proj-)?[A-Za-z0-9_\-]{8,})`),
	regexp.MustCompile(`()(eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,})`),
}

// RedactValue masks a secret, keeping the last four characters.
func RedactValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "bearer ") {
		return "Bearer " + mask(trimmed[7:])
	}
	return mask(trimmed)
}

// RedactText masks every credential-looking substring of s.
func RedactText(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			parts := re.FindStringSubmatch(m)
			return parts[1] + mask(parts[2])
		})
	}
	return s
}

// RedactMap returns a copy of m with secret keys masked. Nested maps and
// slices are walked.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	return redactAny(m).(map[string]interface{})
}

func redactAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(fmt.Sprint(val))
				continue
			}
			out[key] = redactAny(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(val)
				continue
			}
			out[key] = val
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = redactAny(val)
		}
		return out
	case string:
		return RedactText(typed)
	default:
		return value
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	return secretKeys[lower]
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
