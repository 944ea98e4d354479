package repository

import (
	"context"
	"strings"
	"sync"

	"edu-platform/auth/internal/user/domain"
)

// MemoryRepository is an in-process Repository for tests and local development.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMemoryRepository returns a MemoryRepository holding users.
func NewMemoryRepository(users ...*domain.User) *MemoryRepository {
	m := &MemoryRepository{users: make(map[string]*domain.User)}
	for _, u := range users {
		m.Put(u)
	}
	return m
}

// Put stores a copy of u, replacing any user with the same id.
func (m *MemoryRepository) Put(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cu := *u
	m.users[u.ID] = &cu
}

// Delete removes the user with id.
func (m *MemoryRepository) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cu := *u
	return &cu, nil
}

func (m *MemoryRepository) GetByEmailOrPhone(_ context.Context, identifier string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if (u.Email != "" && strings.EqualFold(u.Email, identifier)) || (u.Phone != "" && u.Phone == identifier) {
			cu := *u
			return &cu, nil
		}
	}
	return nil, nil
}
