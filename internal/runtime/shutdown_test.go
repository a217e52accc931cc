package runtime

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdownManager_Register(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	var called int32
	m.Register("test-handler", func(ctx context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	if err := m.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&called) != 1 {
		t.Error("handler was not called")
	}
}

func TestShutdownManager_LIFO(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	var order []string
	m.RegisterSimple("store", func() { order = append(order, "store") })
	m.RegisterSimple("permissions", func() { order = append(order, "permissions") })
	m.RegisterSimple("server", func() { order = append(order, "server") })

	m.Shutdown()

	want := "server,permissions,store"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestShutdownManager_ContextAndDone(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	select {
	case <-m.Context().Done():
		t.Fatal("context should not be cancelled before shutdown")
	case <-m.Done():
		t.Fatal("done channel should not be closed before shutdown")
	default:
	}

	var sawCancel bool
	m.RegisterSimple("check", func() {
		sawCancel = m.Context().Err() != nil
	})
	m.Shutdown()

	if !sawCancel {
		t.Error("context should be cancelled before handlers run")
	}
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel should be closed after shutdown")
	}
}

func TestShutdownManager_Timeout(t *testing.T) {
	m := NewShutdownManager(100 * time.Millisecond)

	var laterRan bool
	m.RegisterSimple("later", func() { laterRan = true })
	m.Register("stuck", func(ctx context.Context) error {
		time.Sleep(5 * time.Second)
		return nil
	})

	start := time.Now()
	err := m.Shutdown()
	if d := time.Since(start); d > time.Second {
		t.Errorf("shutdown took too long: %v", d)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if laterRan {
		t.Error("handlers after the deadline should be skipped")
	}
}

func TestShutdownManager_Errors(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	m.Register("error-handler", func(ctx context.Context) error {
		return errors.New("test error")
	})
	m.Register("panicking", func(ctx context.Context) error {
		panic("boom")
	})
	var ran bool
	m.RegisterSimple("success-handler", func() { ran = true })

	err := m.Shutdown()
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(err.Error(), "error-handler: test error") {
		t.Errorf("missing handler error: %v", err)
	}
	if !strings.Contains(err.Error(), "panicking") {
		t.Errorf("missing panic error: %v", err)
	}
	if !ran {
		t.Error("a failing handler should not stop the others")
	}
}

func TestShutdownManager_OnlyOnce(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	var callCount int32
	m.Register("once-handler", func(ctx context.Context) error {
		atomic.AddInt32(&callCount, 1)
		return errors.New("once")
	})

	first := m.Shutdown()
	second := m.Shutdown()

	if atomic.LoadInt32(&callCount) != 1 {
		t.Errorf("handler should only be called once, got %d", callCount)
	}
	if first == nil || first != second {
		t.Errorf("repeated Shutdown should return the first result: %v, %v", first, second)
	}
}
