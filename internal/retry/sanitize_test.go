package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	msg := "401 Unauthorized: Incorrect API key provided: sk-proj-abcdefghijklmnopqrstuvwxyz1234"
	out := Sanitize(msg)
	assert.NotContains(t, out, "abcdefghijklmnop")
	assert.Contains(t, out, "****1234")
	assert.Contains(t, out, "Incorrect API key provided")

	assert.Equal(t, "", SanitizeError(nil))
	assert.Equal(t, "Bearer ****wxyz", SanitizeError(errors.New("Bearer abcdefghuvwxyz")))
}

func TestUserMessage(t *testing.T) {
	billing := ParseAPIError("zai", 429, []byte(`{"error":{"code":"1113","message":"余额不足或无可用资源包,请充值。"}}`))
	assert.Equal(t, "余额不足或无可用资源包,请充值。", UserMessage(fmt.Errorf("stream: %w", billing)))

	assert.Equal(t, "request timed out", UserMessage(fmt.Errorf("open: %w", context.DeadlineExceeded)))

	other := &APIError{Provider: "openai", StatusCode: 500, Message: "key sk-abcdefgh12345678 failed"}
	assert.Equal(t, "openai API error (500): key ****5678 failed", UserMessage(other))

	assert.Equal(t, "", UserMessage(nil))
}
