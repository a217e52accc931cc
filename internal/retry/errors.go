// Package retry wraps outbound provider calls with bounded retry and
// classifies provider errors.
package retry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrRateLimited  = errors.New("provider rate limited")
	ErrUnauthorized = errors.New("provider unauthorized")
	ErrUnavailable  = errors.New("provider unavailable")
	ErrBilling      = errors.New("provider billing or quota exhausted")
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 8 << 10

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	// Code is the provider error code or type, when the body carries one.
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, msg)
}

// Is maps the error onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrBilling:
		return isZaiBillingAPIError(e)
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests && !isZaiBillingAPIError(e)
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrUnavailable:
		return e.StatusCode >= 500
	}
	return false
}

// errorEnvelope covers the error bodies of OpenAI-compatible APIs
// ({"error":{"message","type","code"}}), Anthropic
// ({"type":"error","error":{"type","message"}}) and Z.AI.
type errorEnvelope struct {
	Error *struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
	Message string `json:"message"`
	Code    any    `json:"code"`
}

// NewAPIError reads resp.Body (bounded) and builds an APIError.
// It does not close the body.
func NewAPIError(provider string, resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return ParseAPIError(provider, resp.StatusCode, data)
}

// ParseAPIError builds an APIError from a status code and raw body.
func ParseAPIError(provider string, status int, body []byte) *APIError {
	e := &APIError{
		Provider:   provider,
		StatusCode: status,
		Body:       string(body),
	}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return e
	}
	if env.Error != nil {
		e.Message = env.Error.Message
		e.Code = strings.Trim(string(env.Error.Code), `"`)
		if e.Code == "" || e.Code == "null" {
			e.Code = env.Error.Type
		}
		return e
	}
	e.Message = env.Message
	if env.Code != nil {
		e.Code = fmt.Sprint(env.Code)
	}
	return e
}
