// Package runtime coordinates graceful shutdown of the sagi server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joss/sagi/internal/logging"
)

// ShutdownFunc is a cleanup function called during shutdown
type ShutdownFunc func(ctx context.Context) error

// ShutdownManager runs registered cleanup handlers once, newest first, when
// the process is asked to stop.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []namedHandler
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	err      error
	log      *logging.Logger
}

type namedHandler struct {
	name string
	fn   ShutdownFunc
}

// DefaultShutdownTimeout bounds the whole cleanup sequence.
const DefaultShutdownTimeout = 15 * time.Second

// NewShutdownManager creates a manager whose handlers share timeout.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logging.New("shutdown"),
	}
}

// Register adds a cleanup handler. Handlers run in reverse registration
// order, so resources registered first are released last.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// RegisterSimple adds a cleanup function that cannot fail.
func (m *ShutdownManager) RegisterSimple(name string, fn func()) {
	m.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Context is cancelled as soon as shutdown begins.
func (m *ShutdownManager) Context() context.Context {
	return m.ctx
}

// Done is closed once every handler has returned or the timeout expired.
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// ListenForSignals triggers Shutdown on SIGINT or SIGTERM. A second signal
// exits immediately.
func (m *ShutdownManager) ListenForSignals() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		m.log.Info("signal_received", map[string]interface{}{"signal": sig.String()})
		go func() {
			<-sigChan
			os.Exit(130)
		}()
		m.Shutdown()
	}()
}

// Shutdown runs the handlers. Only the first call does any work; every call
// returns the joined handler errors.
func (m *ShutdownManager) Shutdown() error {
	m.once.Do(func() {
		m.err = m.performShutdown()
	})
	return m.err
}

func (m *ShutdownManager) performShutdown() error {
	defer close(m.done)
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := make([]namedHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", h.name, ctx.Err()))
			continue
		}

		start := time.Now()
		err := runHandler(ctx, h)
		extra := map[string]interface{}{"handler": h.name, "duration_ms": time.Since(start).Milliseconds()}
		if err != nil {
			m.log.Warn("shutdown_handler_failed", extra, err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.log.Debug("shutdown_handler_done", extra)
	}
	return errors.Join(errs...)
}

// runHandler returns when the handler does or when ctx expires, whichever
// comes first.
func runHandler(ctx context.Context, h namedHandler) error {
	result := make(chan error, 1)
	go func() {
		result <- logging.NewRecoveryHandler("shutdown").WrapError(func() error {
			return h.fn(ctx)
		})
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
