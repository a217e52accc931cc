package logging

import (
	"errors"
	"strings"
	"testing"
)

func TestRecoveryHandler_Wrap(t *testing.T) {
	captureOutput(t)
	executed := false
	NewRecoveryHandler("server").Wrap(func() { executed = true })
	if !executed {
		t.Error("function was not executed")
	}
}

func TestRecoveryHandler_WrapPanic(t *testing.T) {
	buf := captureOutput(t)
	handler := NewRecoveryHandler("server")

	var captured any
	handler.OnPanic = func(v any) { captured = v }
	handler.Wrap(func() { panic("ws reader") })

	if captured != "ws reader" {
		t.Errorf("expected captured panic, got %v", captured)
	}
	if !strings.Contains(buf.String(), "panic_recovered") {
		t.Errorf("expected log line, got %s", buf.String())
	}
}

func TestRecoveryHandler_WrapError(t *testing.T) {
	captureOutput(t)
	handler := NewRecoveryHandler("stream")

	err := handler.WrapError(func() error { panic("bad") })
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("expected ErrPanic, got %v", err)
	}
	if !strings.Contains(err.Error(), "panic in stream: bad") {
		t.Errorf("unexpected error: %v", err)
	}

	want := errors.New("plain")
	if got := handler.WrapError(func() error { return want }); got != want {
		t.Errorf("expected passthrough error, got %v", got)
	}
}
