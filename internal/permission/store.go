// Package permission holds per-session permission state and decides whether
// bash commands and tool calls may run.
package permission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/joss/sagi/internal/domain"
)

// ErrInvalidMode is returned when a mode string is not one of domain.Modes.
var ErrInvalidMode = errors.New("invalid permission mode")

// sessionState is the permission state of one chat session.
type sessionState struct {
	mode     domain.PermissionMode
	approved map[string]bool
	denied   map[string]bool
	waiters  map[string][]chan bool
	lastUsed time.Time
}

// Store keeps permission state per session id. Sessions are created lazily on
// first access with the current default mode; unknown ids are never an error.
type Store struct {
	mu          sync.RWMutex
	defaultMode domain.PermissionMode
	sessions    map[string]*sessionState
	idleTTL     time.Duration
	now         func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultMode sets the mode given to new sessions.
func WithDefaultMode(mode domain.PermissionMode) Option {
	return func(s *Store) {
		if _, err := domain.ParseMode(string(mode)); err == nil {
			s.defaultMode = mode
		}
	}
}

// WithIdleTTL enables eviction of sessions unused for longer than ttl.
// Zero disables eviction.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.idleTTL = ttl
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store. Call Close to stop the eviction janitor.
func NewStore(opts ...Option) *Store {
	s := &Store{
		defaultMode: domain.ModeAsk,
		sessions:    make(map[string]*sessionState),
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idleTTL > 0 {
		go s.janitor()
	}
	return s
}

// Close stops background eviction and releases every pending approval wait
// as denied.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		for _, st := range s.sessions {
			releaseWaiters(st)
		}
		s.mu.Unlock()
	})
}

// NormalizeCommand trims surrounding whitespace so that approvals match the
// commands they were granted for.
func NormalizeCommand(command string) string {
	return strings.TrimSpace(command)
}

// session returns the state for id, creating it if needed. Caller holds mu.
func (s *Store) session(id string) *sessionState {
	st, ok := s.sessions[id]
	if !ok {
		st = &sessionState{
			mode:     s.defaultMode,
			approved: make(map[string]bool),
			denied:   make(map[string]bool),
			waiters:  make(map[string][]chan bool),
		}
		s.sessions[id] = st
	}
	st.lastUsed = s.now()
	return st
}

// DefaultMode returns the mode given to new sessions.
func (s *Store) DefaultMode() domain.PermissionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultMode
}

// SetDefaultMode changes the mode for sessions created from now on.
// Existing sessions keep their mode.
func (s *Store) SetDefaultMode(mode domain.PermissionMode) error {
	if _, err := domain.ParseMode(string(mode)); err != nil {
		return errors.Join(ErrInvalidMode, err)
	}
	s.mu.Lock()
	s.defaultMode = mode
	s.mu.Unlock()
	return nil
}

// Mode returns the session's mode.
func (s *Store) Mode(sessionID string) domain.PermissionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session(sessionID).mode
}

// SetMode overwrites the session's mode. Approved and denied commands are
// kept.
func (s *Store) SetMode(sessionID string, mode domain.PermissionMode) error {
	if _, err := domain.ParseMode(string(mode)); err != nil {
		return errors.Join(ErrInvalidMode, err)
	}
	s.mu.Lock()
	s.session(sessionID).mode = mode
	s.mu.Unlock()
	return nil
}

// Approve records command as approved for the session and removes it from
// the denied set. Pending waiters for the command are released as approved.
func (s *Store) Approve(sessionID, command string) {
	command = NormalizeCommand(command)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.session(sessionID)
	st.approved[command] = true
	delete(st.denied, command)
	notify(st, command)
}

// Deny records command as denied for the session and removes it from the
// approved set. Pending waiters for the command are released as denied.
func (s *Store) Deny(sessionID, command string) {
	command = NormalizeCommand(command)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.session(sessionID)
	st.denied[command] = true
	delete(st.approved, command)
	notify(st, command)
}

// lookup returns the session mode together with whether command is denied
// or approved, under one lock.
func (s *Store) lookup(sessionID string, commands ...string) (mode domain.PermissionMode, denied, approved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.session(sessionID)
	for _, c := range commands {
		d, a := st.verdict(NormalizeCommand(c))
		denied = denied || d
		approved = approved || a
	}
	return st.mode, denied, approved
}

// Clear drops all state for the session. Pending waiters are denied.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[sessionID]; ok {
		releaseWaiters(st)
		delete(s.sessions, sessionID)
	}
}

// Summary reports the session's mode and set sizes.
func (s *Store) Summary(sessionID string) domain.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.session(sessionID)
	return domain.Summary{
		Mode:          st.mode,
		ApprovedCount: len(st.approved),
		DeniedCount:   len(st.denied),
	}
}

// Approved returns a copy of the session's approved commands.
func (s *Store) Approved(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return keys(s.session(sessionID).approved)
}

// Denied returns a copy of the session's denied commands.
func (s *Store) Denied(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return keys(s.session(sessionID).denied)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Await blocks until command is approved or denied for the session, or ctx
// is done. A command already decided returns immediately.
func (s *Store) Await(ctx context.Context, sessionID, command string) (bool, error) {
	command = NormalizeCommand(command)

	s.mu.Lock()
	st := s.session(sessionID)
	if denied, approved := st.verdict(command); denied || approved {
		s.mu.Unlock()
		return approved, nil
	}
	ch := make(chan bool, 1)
	st.waiters[command] = append(st.waiters[command], ch)
	s.mu.Unlock()

	select {
	case ok := <-ch:
		return ok, nil
	case <-ctx.Done():
		s.removeWaiter(sessionID, command, ch)
		return false, ctx.Err()
	}
}

func (s *Store) removeWaiter(sessionID, command string, ch chan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	list := st.waiters[command]
	for i, w := range list {
		if w == ch {
			st.waiters[command] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(st.waiters[command]) == 0 {
		delete(st.waiters, command)
	}
}

// EvictIdle removes sessions unused since before now-idleTTL that have no
// pending waiters. It returns the number of evicted sessions.
func (s *Store) EvictIdle(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-s.idleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.sessions {
		if len(st.waiters) == 0 && st.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *Store) janitor() {
	interval := s.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.EvictIdle(s.now())
		}
	}
}

// verdict decides command against the session's sets. An exact entry
// beats any pattern, so approving "git status" after denying "git *" allows
// that one command. Among patterns a denial wins.
func (st *sessionState) verdict(command string) (denied, approved bool) {
	switch {
	case st.approved[command]:
		return false, true
	case st.denied[command]:
		return true, false
	case matchAny(st.denied, command):
		return true, false
	}
	return false, matchAny(st.approved, command)
}

// notify resolves every waiter whose command is covered by pattern with
// the command's current verdict.
func notify(st *sessionState, pattern string) {
	for command, chans := range st.waiters {
		if !matchCommand(command, pattern) {
			continue
		}
		_, approved := st.verdict(command)
		for _, ch := range chans {
			ch <- approved
		}
		delete(st.waiters, command)
	}
}

func releaseWaiters(st *sessionState) {
	for command, chans := range st.waiters {
		for _, ch := range chans {
			ch <- false
		}
		delete(st.waiters, command)
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func matchAny(set map[string]bool, command string) bool {
	if set[command] {
		return true
	}
	for pattern := range set {
		if matchCommand(command, pattern) {
			return true
		}
	}
	return false
}

// matchCommand checks if a command matches a pattern
func matchCommand(command, pattern string) bool {
	// Handle wildcard patterns like "git *", "ls *"
	if strings.HasSuffix(pattern, " *") {
		prefix := strings.TrimSuffix(pattern, " *")
		return strings.HasPrefix(command, prefix+" ") || command == prefix
	}
	// A bare tool key covers every argument hash of that tool.
	if strings.HasPrefix(pattern, "tool:") && strings.Count(pattern, ":") == 1 {
		return command == pattern || strings.HasPrefix(command, pattern+":")
	}
	// Exact match
	return command == pattern
}
