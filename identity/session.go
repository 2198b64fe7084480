package identity

import (
	"sync"
	"time"
)

// User is the authenticated principal reported by the provider.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// Session is what a successful verification establishes.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// SessionStore is the ambient authenticated-user signal. Listeners are
// invoked with the current user (nil when signed out) every time it changes.
type SessionStore interface {
	CurrentUser() *User
	Subscribe(listener func(*User)) (unsubscribe func())
}

// SessionPublisher is implemented by stores transports can write to.
type SessionPublisher interface {
	Publish(session Session)
	Clear()
}

// MemorySessionStore is an in-process SessionStore. Listeners run
// synchronously on the publishing goroutine, outside the store lock.
type MemorySessionStore struct {
	mu        sync.Mutex
	session   *Session
	nextID    uint64
	listeners map[uint64]func(*User)
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		listeners: make(map[uint64]func(*User)),
	}
}

func (s *MemorySessionStore) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	u := s.session.User
	return &u
}

// Session returns a copy of the current session, if any.
func (s *MemorySessionStore) Session() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

func (s *MemorySessionStore) Subscribe(listener func(*User)) func() {
	if listener == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *MemorySessionStore) Publish(session Session) {
	s.mu.Lock()
	stored := session
	s.session = &stored
	u := stored.User
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, l := range listeners {
		l(&u)
	}
}

func (s *MemorySessionStore) Clear() {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return
	}
	s.session = nil
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, l := range listeners {
		l(nil)
	}
}

func (s *MemorySessionStore) snapshotListeners() []func(*User) {
	out := make([]func(*User), 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}
