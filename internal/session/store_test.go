package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(time.Minute, time.Hour) // janitor effectively off
	t.Cleanup(s.Close)
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t)

	s.Set("sess-1", Config{Provider: "anthropic", Model: "claude-sonnet-4-5", Credential: "sk-test"}, 0)

	cfg, ok := s.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
}

func TestStore_GetAbsent(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Get("nope")
	assert.False(t, ok)
	assert.False(t, s.Exists("nope"))
}

func TestStore_NaturalExpiry(t *testing.T) {
	s := newTestStore(t)

	s.Set("sess-1", Config{Provider: "openai"}, 15*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := s.Get("sess-1")
	assert.False(t, ok, "expired config should be absent")
}

func TestStore_ExtendResetsCountdown(t *testing.T) {
	s := newTestStore(t)

	s.Set("sess-1", Config{Provider: "openai"}, 40*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	require.True(t, s.Extend("sess-1", 100*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	// Without the extend this would have expired at 40ms.
	assert.True(t, s.Exists("sess-1"))
}

func TestStore_ExtendExpiredReturnsFalse(t *testing.T) {
	s := newTestStore(t)

	s.Set("sess-1", Config{}, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	assert.False(t, s.Extend("sess-1", time.Minute))
	assert.False(t, s.Extend("never-existed", time.Minute))
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)

	s.Set("sess-1", Config{Provider: "anthropic"}, time.Minute)
	s.Clear("sess-1")
	s.Clear("sess-1") // idempotent

	assert.False(t, s.Exists("sess-1"))
}

func TestStore_LastWriterWins(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Set("shared", Config{Provider: "anthropic"}, time.Minute)
			s.Extend("shared", time.Minute)
			s.Get("shared")
		}()
	}
	wg.Wait()

	cfg, ok := s.Get("shared")
	require.True(t, ok)
	assert.Equal(t, "anthropic", cfg.Provider)
}

func TestStore_JanitorSweeps(t *testing.T) {
	s := NewStore(time.Minute, 10*time.Millisecond)
	defer s.Close()

	s.Set("sess-1", Config{}, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	s.mu.Lock()
	_, present := s.entries["sess-1"]
	s.mu.Unlock()
	assert.False(t, present, "janitor should remove expired entries")
}
