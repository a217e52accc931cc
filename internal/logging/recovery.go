package logging

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrPanic wraps every error produced from a recovered panic.
var ErrPanic = errors.New("panic")

// maxStack bounds the stack trace attached to panic_recovered events.
const maxStack = 4096

// RecoveryHandler turns panics in a component into logged errors.
type RecoveryHandler struct {
	Component string
	// OnPanic, if set, runs after the panic is logged.
	OnPanic func(value any)
}

func NewRecoveryHandler(component string) *RecoveryHandler {
	return &RecoveryHandler{Component: component}
}

// Wrap runs fn, logging and swallowing any panic.
func (r *RecoveryHandler) Wrap(fn func()) {
	_ = r.WrapError(func() error {
		fn()
		return nil
	})
}

// WrapError runs fn and returns its error, or an ErrPanic-wrapped error if
// fn panics.
func (r *RecoveryHandler) WrapError(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = r.recovered(v)
		}
	}()
	return fn()
}

func (r *RecoveryHandler) recovered(v any) error {
	stack := debug.Stack()
	if len(stack) > maxStack {
		stack = stack[:maxStack]
	}
	err := fmt.Errorf("%w in %s: %v", ErrPanic, r.Component, v)
	New(r.Component).Error("panic_recovered", map[string]interface{}{
		"stack": string(stack),
	}, err)
	if r.OnPanic != nil {
		r.OnPanic(v)
	}
	return err
}

// SafeGo runs fn on a new goroutine that cannot crash the process.
func SafeGo(component string, fn func()) {
	go NewRecoveryHandler(component).Wrap(fn)
}
