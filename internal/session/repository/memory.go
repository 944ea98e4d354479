package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"edu-platform/auth/internal/session/domain"
)

// MemoryRepository is an in-process Repository. A single mutex serializes every
// operation, which gives the same atomicity as the Postgres transactions. Used by
// tests and single-node development setups.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	tokens   map[string]*domain.RefreshToken // by id
	byHash   map[string]string               // token hash -> id
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*domain.Session),
		tokens:   make(map[string]*domain.RefreshToken),
		byHash:   make(map[string]string),
	}
}

func (m *MemoryRepository) CreateWithToken(_ context.Context, s *domain.Session, t *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := *s
	m.sessions[s.ID] = &cs
	m.putToken(t)
	return nil
}

// PutSession stores s as-is, replacing any session with the same id. Test seam for
// sessions in states the manager never produces directly (e.g. already expired).
func (m *MemoryRepository) PutSession(s *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := *s
	m.sessions[s.ID] = &cs
}

// PutToken stores t as-is. Test seam, see PutSession.
func (m *MemoryRepository) PutToken(t *domain.RefreshToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putToken(t)
}

func (m *MemoryRepository) putToken(t *domain.RefreshToken) {
	ct := *t
	m.tokens[t.ID] = &ct
	m.byHash[t.TokenHash] = t.ID
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cs := *s
	return &cs, nil
}

func (m *MemoryRepository) GetTokenByHash(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	ct := *m.tokens[id]
	return &ct, nil
}

// Tokens returns copies of every stored token of the session, in no particular order.
func (m *MemoryRepository) Tokens(sessionID string) []*domain.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RefreshToken
	for _, t := range m.tokens {
		if t.SessionID == sessionID {
			ct := *t
			out = append(out, &ct)
		}
	}
	return out
}

func (m *MemoryRepository) Rotate(_ context.Context, r Rotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[r.SessionID]
	if !ok || !sess.IsActive(r.At) {
		return ErrSessionInactive
	}
	old, ok := m.tokens[r.OldTokenID]
	if !ok || old.Revoked {
		return ErrTokenAlreadyRevoked
	}
	at := r.At
	old.Revoked = true
	old.RevokedAt = &at
	old.RevokedReason = domain.ReasonTokenRotated
	old.LastUsedAt = &at
	old.UsageCount++
	m.putToken(r.Next)
	sess.LastActiveAt = at
	return nil
}

func (m *MemoryRepository) TouchLastActive(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActiveAt = at
	}
	return nil
}

func (m *MemoryRepository) RevokeSession(_ context.Context, id, reason string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
		s.RevokedReason = reason
	}
	var n int64
	for _, t := range m.tokens {
		if t.SessionID == id && !t.Revoked {
			revokeToken(t, reason, at)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) RevokeAllByUser(_ context.Context, userID, reason string, at time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessions, tokens int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &at
			s.RevokedReason = reason
			sessions++
		}
	}
	for _, t := range m.tokens {
		if t.UserID == userID && !t.Revoked {
			revokeToken(t, reason, at)
			tokens++
		}
	}
	return sessions, tokens, nil
}

func (m *MemoryRepository) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive(now) {
			cs := *s
			out = append(out, &cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (m *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := make(map[string]struct{})
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			expired[id] = struct{}{}
		}
	}
	var tokens int64
	for id, t := range m.tokens {
		_, sessionExpired := expired[t.SessionID]
		if t.ExpiresAt.Before(now) || sessionExpired {
			delete(m.tokens, id)
			delete(m.byHash, t.TokenHash)
			tokens++
		}
	}
	for id := range expired {
		delete(m.sessions, id)
	}
	return int64(len(expired)), tokens, nil
}

func revokeToken(t *domain.RefreshToken, reason string, at time.Time) {
	t.Revoked = true
	t.RevokedAt = &at
	t.RevokedReason = reason
}
