package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/sagi/internal/domain"
)

// --- Lazy Session Tests ---

func TestModeLazyDefault(t *testing.T) {
	s := NewStore(WithDefaultMode(domain.ModeSafe))
	defer s.Close()

	assert.Equal(t, domain.ModeSafe, s.Mode("new-id"))
	assert.Equal(t, domain.ModeSafe, s.Mode("new-id"))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.SetMode("new-id", domain.ModeAllowAll))
	assert.Equal(t, domain.ModeAllowAll, s.Mode("new-id"))
}

func TestSummaryUnknownSession(t *testing.T) {
	s := NewStore()
	defer s.Close()

	sum := s.Summary("nobody")
	assert.Equal(t, domain.ModeAsk, sum.Mode)
	assert.Equal(t, 0, sum.ApprovedCount)
	assert.Equal(t, 0, sum.DeniedCount)
}

func TestSetDefaultModeOnlyAffectsNewSessions(t *testing.T) {
	s := NewStore(WithDefaultMode(domain.ModeAsk))
	defer s.Close()

	assert.Equal(t, domain.ModeAsk, s.Mode("old"))
	require.NoError(t, s.SetDefaultMode(domain.ModeSafe))

	assert.Equal(t, domain.ModeAsk, s.Mode("old"))
	assert.Equal(t, domain.ModeSafe, s.Mode("new"))
	assert.Equal(t, domain.ModeSafe, s.DefaultMode())
}

func TestSetModeInvalid(t *testing.T) {
	s := NewStore()
	defer s.Close()

	err := s.SetMode("s", "yolo")
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.ErrorIs(t, s.SetDefaultMode("yolo"), ErrInvalidMode)
	assert.Equal(t, domain.ModeAsk, s.Mode("s"))
}

func TestSetModeKeepsApprovals(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Approve("s", "ls")
	require.NoError(t, s.SetMode("s", domain.ModeSafe))
	assert.True(t, isApproved(s, "s", "ls"))
}

// --- Approve/Deny Tests ---

func TestApproveDenyMutualExclusion(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Approve("s", "rm -rf /tmp")
	assert.True(t, isApproved(s, "s", "rm -rf /tmp"))
	assert.False(t, isDenied(s, "s", "rm -rf /tmp"))

	s.Deny("s", "rm -rf /tmp")
	assert.False(t, isApproved(s, "s", "rm -rf /tmp"))
	assert.True(t, isDenied(s, "s", "rm -rf /tmp"))
	assert.Empty(t, s.Approved("s"))
	assert.Equal(t, []string{"rm -rf /tmp"}, s.Denied("s"))

	s.Approve("s", "rm -rf /tmp")
	assert.Equal(t, []string{"rm -rf /tmp"}, s.Approved("s"))
	assert.Empty(t, s.Denied("s"))
}

func TestApproveNormalizesWhitespace(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Approve("s", "  ls -la \n")
	assert.True(t, isApproved(s, "s", "ls -la"))
}

func TestApprovePattern(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Approve("s", "git *")
	assert.True(t, isApproved(s, "s", "git status"))
	assert.True(t, isApproved(s, "s", "git"))
	assert.False(t, isApproved(s, "s", "gitk"))
}

func TestSessionsIsolated(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Approve("a", "ls")
	s.Deny("b", "ls")
	require.NoError(t, s.SetMode("a", domain.ModeAllowAll))

	assert.True(t, isApproved(s, "a", "ls"))
	assert.False(t, isApproved(s, "b", "ls"))
	assert.True(t, isDenied(s, "b", "ls"))
	assert.Equal(t, domain.ModeAsk, s.Mode("b"))
}

func TestClear(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Approve("s", "ls")
	require.NoError(t, s.SetMode("s", domain.ModeAllowAll))
	s.Clear("s")
	assert.Equal(t, 0, s.Len())

	sum := s.Summary("s")
	assert.Equal(t, domain.ModeAsk, sum.Mode)
	assert.Equal(t, 0, sum.ApprovedCount)

	// clearing an unknown session is a no-op
	s.Clear("missing")
}

func TestConcurrentSessions(t *testing.T) {
	s := NewStore()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			s.Approve(id, "ls")
			s.Mode(id)
			s.Summary(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 26, s.Len())
}

// --- Await Tests ---

func TestAwaitApproved(t *testing.T) {
	s := NewStore()
	defer s.Close()

	done := make(chan bool)
	go func() {
		ok, err := s.Await(context.Background(), "s", "make build")
		assert.NoError(t, err)
		done <- ok
	}()

	require.Eventually(t, func() bool { return s.hasWaiter("s", "make build") }, time.Second, 5*time.Millisecond)
	s.Approve("s", "make build")
	assert.True(t, <-done)
}

func TestAwaitDenied(t *testing.T) {
	s := NewStore()
	defer s.Close()

	done := make(chan bool)
	go func() {
		ok, _ := s.Await(context.Background(), "s", "make build")
		done <- ok
	}()

	require.Eventually(t, func() bool { return s.hasWaiter("s", "make build") }, time.Second, 5*time.Millisecond)
	s.Deny("s", "make build")
	assert.False(t, <-done)
}

func TestAwaitAlreadyDecided(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Approve("s", "ls")
	ok, err := s.Await(context.Background(), "s", "ls")
	require.NoError(t, err)
	assert.True(t, ok)

	s.Deny("s", "pwd")
	ok, err = s.Await(context.Background(), "s", "pwd")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAwaitCancelled(t *testing.T) {
	s := NewStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	ok, err := s.Await(ctx, "s", "ls")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.hasWaiter("s", "ls"))
}

func TestClearReleasesWaiters(t *testing.T) {
	s := NewStore()
	defer s.Close()

	done := make(chan bool)
	go func() {
		ok, _ := s.Await(context.Background(), "s", "ls")
		done <- ok
	}()

	require.Eventually(t, func() bool { return s.hasWaiter("s", "ls") }, time.Second, 5*time.Millisecond)
	s.Clear("s")
	assert.False(t, <-done)
}

func TestAwaitResolvedByPattern(t *testing.T) {
	s := NewStore()
	defer s.Close()

	done := make(chan bool)
	go func() {
		ok, _ := s.Await(context.Background(), "s", "git status")
		done <- ok
	}()

	require.Eventually(t, func() bool { return s.hasWaiter("s", "git status") }, time.Second, 5*time.Millisecond)
	s.Approve("s", "git *")
	assert.True(t, <-done)
}

func TestAwaitResolvedByBareToolKey(t *testing.T) {
	s := NewStore()
	defer s.Close()

	key := "tool:create_document:0123456789abcdef"
	done := make(chan bool)
	go func() {
		ok, _ := s.Await(context.Background(), "s", key)
		done <- ok
	}()

	require.Eventually(t, func() bool { return s.hasWaiter("s", key) }, time.Second, 5*time.Millisecond)
	s.Approve("s", "tool:create_document")
	assert.True(t, <-done)
	assert.True(t, isApproved(s, "s", key))
	assert.False(t, isApproved(s, "s", "tool:create_spreadsheet:0123456789abcdef"))
}

// --- Eviction Tests ---

func TestEvictIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := NewStore(WithIdleTTL(time.Hour), WithClock(clock))
	defer s.Close()

	s.Approve("old", "ls")
	now = now.Add(30 * time.Minute)
	s.Approve("fresh", "ls")

	evicted := s.EvictIdle(now.Add(45 * time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, s.Len())
	assert.False(t, isApproved(s, "old", "ls"))
}

func TestEvictIdleDisabled(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Mode("s")
	assert.Equal(t, 0, s.EvictIdle(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, s.Len())
}

func (s *Store) hasWaiter(sessionID, command string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	return ok && len(st.waiters[command]) > 0
}

func isApproved(s *Store, sessionID, command string) bool {
	_, _, approved := s.lookup(sessionID, command)
	return approved
}

func isDenied(s *Store, sessionID, command string) bool {
	_, denied, _ := s.lookup(sessionID, command)
	return denied
}

func TestExactEntryBeatsPattern(t *testing.T) {
	s := NewStore()
	defer s.Close()

	s.Deny("s", "git *")
	s.Approve("s", "git status")
	assert.True(t, isApproved(s, "s", "git status"))
	assert.False(t, isDenied(s, "s", "git status"))
	assert.True(t, isDenied(s, "s", "git push"))

	s.Approve("s", "npm *")
	s.Deny("s", "npm publish")
	assert.True(t, isDenied(s, "s", "npm publish"))
	assert.True(t, isApproved(s, "s", "npm test"))
}

func TestPatternApprovalDoesNotReleaseExactDenial(t *testing.T) {
	s := NewStore()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.Deny("s", "git push")
	approved, err := s.Await(ctx, "s", "git push")
	require.NoError(t, err)
	assert.False(t, approved)

	result := make(chan bool, 1)
	go func() {
		ok, _ := s.Await(ctx, "s", "git pull")
		result <- ok
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.sessions["s"].waiters) == 1
	}, time.Second, 5*time.Millisecond)

	s.Approve("s", "git *")
	assert.True(t, <-result)
	assert.True(t, isDenied(s, "s", "git push"))
}
