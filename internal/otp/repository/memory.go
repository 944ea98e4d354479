package repository

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"edu-platform/auth/internal/otp/domain"
)

type memoryEntry struct {
	challenge domain.Challenge
	expiresAt time.Time
	attempts  int
}

// MemoryStore is an in-memory Store for single-node development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	cooldowns map[string]time.Time
	nowF      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock returns an empty MemoryStore using now for expiry checks.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]*memoryEntry),
		cooldowns: make(map[string]time.Time),
		nowF:      now,
	}
}

func (s *MemoryStore) Save(_ context.Context, c *domain.Challenge, ttl, cooldown time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	s.entries[c.Target] = &memoryEntry{challenge: *c, expiresAt: now.Add(ttl)}
	if cooldown > 0 {
		s.cooldowns[c.Target] = now.Add(cooldown)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, target string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(target)
	if e == nil {
		return nil, nil
	}
	c := e.challenge
	return &c, nil
}

func (s *MemoryStore) Delete(_ context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, target)
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, target, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(target)
	if e == nil || subtle.ConstantTimeCompare([]byte(e.challenge.CodeHash), []byte(codeHash)) != 1 {
		return false, nil
	}
	delete(s.entries, target)
	return true, nil
}

func (s *MemoryStore) InCooldown(_ context.Context, target string) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.cooldowns[target]
	if !ok {
		return false, 0, nil
	}
	remaining := until.Sub(s.nowF())
	if remaining <= 0 {
		delete(s.cooldowns, target)
		return false, 0, nil
	}
	return true, remaining, nil
}

func (s *MemoryStore) IncrementAttempts(_ context.Context, target string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(target)
	if e == nil {
		return 1, nil
	}
	e.attempts++
	return e.attempts, nil
}

// live returns the unexpired entry for target, dropping it if expired. Caller holds mu.
func (s *MemoryStore) live(target string) *memoryEntry {
	e, ok := s.entries[target]
	if !ok {
		return nil
	}
	if !e.expiresAt.After(s.nowF()) {
		delete(s.entries, target)
		return nil
	}
	return e
}
