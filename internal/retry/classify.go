package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// zaiBillingCodes are Z.AI error codes for an exhausted balance or
// resource package.
var zaiBillingCodes = map[string]bool{
	"1113": true,
	"1112": true,
}

var zaiBillingPhrases = []string{
	"insufficient balance",
	"余额不足",
	"resource package",
	"资源包",
	"recharge",
}

// transientPhrases catch errors that lost their type on the way up.
var transientPhrases = []string{
	"etimedout",
	"econnreset",
	"econnrefused",
	"socket hang up",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"timeout",
	"temporarily unavailable",
	"overloaded",
}

// IsZaiBilling reports whether err is a Z.AI billing or quota error. These
// must not be retried and are shown to the user verbatim.
func IsZaiBilling(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isZaiBillingAPIError(apiErr)
	}
	return containsAny(strings.ToLower(err.Error()), zaiBillingPhrases)
}

func isZaiBillingAPIError(e *APIError) bool {
	if zaiBillingCodes[e.Code] {
		return true
	}
	if e.StatusCode != http.StatusTooManyRequests && e.StatusCode != http.StatusPaymentRequired {
		return false
	}
	return containsAny(strings.ToLower(e.Message+" "+e.Body), zaiBillingPhrases)
}

// IsRetryable reports whether a failed call may succeed if repeated:
// network timeouts and resets, 408, 429 and 5xx. Other 4xx, billing errors
// and caller cancellation are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || IsZaiBilling(err) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), transientPhrases)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
