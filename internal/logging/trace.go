package logging

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// NewRequestID generates a unique request ID (16 hex chars).
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// WithRequestID adds a request ID to context.
// If id is empty, generates a new one.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewRequestID()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID extracts request ID from context.
// Returns empty string if not present.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
