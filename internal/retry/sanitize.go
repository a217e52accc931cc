package retry

import (
	"context"
	"errors"
	"time"

	"github.com/joss/sagi/internal/logging"
)

const (
	// DefaultRequestTimeout bounds a normal provider request.
	DefaultRequestTimeout = 2 * time.Minute
	// FlexRequestTimeout bounds requests on flex processing tiers, which
	// may queue for a long time before streaming.
	FlexRequestTimeout = 15 * time.Minute
)

// RequestTimeout returns the budget for a request.
func RequestTimeout(flex bool) time.Duration {
	if flex {
		return FlexRequestTimeout
	}
	return DefaultRequestTimeout
}

// RequestContext derives a context that is cancelled when parent is, or
// after the request budget elapses.
func RequestContext(parent context.Context, flex bool) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, RequestTimeout(flex))
}

// Sanitize strips API keys and bearer tokens from a message.
func Sanitize(msg string) string {
	return logging.RedactText(msg)
}

// SanitizeError returns err's message with secrets removed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// UserMessage converts err into the text shown to the user. Billing errors
// keep the provider's own message so the user can act on it.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if IsZaiBilling(err) && errors.As(err, &apiErr) && apiErr.Message != "" {
		return Sanitize(apiErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return SanitizeError(err)
}
