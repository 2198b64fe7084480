package directory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Directory.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (m *Memory) FindByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return copyUser(m.byID[id]), nil
}

func (m *Memory) Create(_ context.Context, email, username string) (User, error) {
	key := normalizeEmail(email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[key]; exists {
		return User{}, ErrDuplicate
	}
	u := &User{
		ID:        uuid.NewString(),
		Email:     key,
		Username:  username,
		CreatedAt: m.now().UTC(),
	}
	m.byID[u.ID] = u
	m.byEmail[key] = u.ID
	return copyUser(u), nil
}

func (m *Memory) Confirm(_ context.Context, id string, at time.Time) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if u.ConfirmedAt == nil {
		t := at.UTC()
		u.ConfirmedAt = &t
	}
	return copyUser(u), nil
}

func copyUser(u *User) User {
	out := *u
	if u.ConfirmedAt != nil {
		t := *u.ConfirmedAt
		out.ConfirmedAt = &t
	}
	return out
}
