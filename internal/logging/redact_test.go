package logging

import (
	"strings"
	"testing"
)

func TestRedactValue(t *testing.T) {
	cases := map[string]string{
		"":                  "",
		"abc":               "****",
		"sk-1234567890":     "****7890",
		"Bearer secret-xyz": "Bearer ****-xyz",
	}
	for in, want := range cases {
		if got := RedactValue(in); got != want {
			t.Errorf("RedactValue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactText(t *testing.T) {
	in := `request failed: Authorization: Bearer abcdefghijklmnop, x-api-key: "sk-ant-REDACTED"`
	out := RedactText(in)
	if strings.Contains(out, "abcdefghijkl") || strings.Contains(out, "zzzzzzzz") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "request failed") {
		t.Errorf("message lost: %s", out)
	}
}

func TestRedactMapNested(t *testing.T) {
	in := map[string]interface{}{
		"headers": map[string]string{"Authorization": "Bearer abcdefgh1234"},
		"list":    []any{map[string]any{"token": "tok-abcdef"}},
		"count":   3,
	}
	out := RedactMap(in)

	headers := out["headers"].(map[string]string)
	if headers["Authorization"] != "Bearer ****1234" {
		t.Errorf("unexpected header: %q", headers["Authorization"])
	}
	item := out["list"].([]any)[0].(map[string]any)
	if item["token"] != "****cdef" {
		t.Errorf("unexpected token: %v", item["token"])
	}
	if out["count"] != 3 {
		t.Errorf("expected count kept")
	}
	if RedactMap(nil) != nil {
		t.Error("expected nil")
	}
}
