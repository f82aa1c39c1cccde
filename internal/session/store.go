// Package session holds per-session AI provider settings with sliding
// expiration. Entries are written by the settings surface, read and
// extended by the pipeline executor while a job referencing the session is
// in flight, and removed on explicit clear or natural expiry.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config is the AI provider preference for one session.
type Config struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Credential string        `json:"credential"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

type entry struct {
	cfg       Config
	expiresAt time.Time
}

// Store is a TTL-backed key-value store for session configs. All methods
// are safe for concurrent use; concurrent writers resolve last-writer-wins
// and every update is a single read-modify-write under the lock.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*entry
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewStore creates a Store and starts a background janitor sweeping expired
// entries at the given interval.
func NewStore(defaultTTL, janitorInterval time.Duration) *Store {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	if janitorInterval <= 0 {
		janitorInterval = time.Minute
	}
	s := &Store{
		entries:    make(map[string]*entry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go s.janitor(janitorInterval)
	return s
}

// Set stores or overwrites the config for a session. A ttl of 0 uses the
// store default.
func (s *Store) Set(sessionID string, cfg Config, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	s.entries[sessionID] = &entry{cfg: cfg, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

// Get returns the config for a session, or false if absent or expired.
func (s *Store) Get(sessionID string) (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return Config{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, sessionID)
		return Config{}, false
	}
	return e.cfg, true
}

// Extend resets the sliding expiry for a session. A ttl of 0 uses the store
// default. Returns false if the session is absent or already expired.
func (s *Store) Extend(sessionID string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, sessionID)
		return false
	}
	e.expiresAt = time.Now().Add(ttl)
	return true
}

// Clear removes a session's config. Removing an absent session is a no-op.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
}

// Exists reports whether a live config exists for the session.
func (s *Store) Exists(sessionID string) bool {
	_, ok := s.Get(sessionID)
	return ok
}

// Close stops the background janitor.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	var expired int

	s.mu.Lock()
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, id)
			expired++
		}
	}
	s.mu.Unlock()

	if expired > 0 {
		zap.L().Debug("session: swept expired configs", zap.Int("count", expired))
	}
}
