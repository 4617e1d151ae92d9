package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Session binds a random token to a logged-in user. Sessions expire
// after an idle period; every successful lookup extends them.
type Session struct {
	Token     string
	User      User
	ExpiresAt time.Time
}

// SessionManager is the in-memory session registry. Sessions do not
// survive a process restart, which is acceptable for a single-gate
// deployment: operators just log in again.
type SessionManager struct {
	TTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a registry with the given idle TTL
// (default 30 minutes).
func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionManager{
		TTL:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Create issues a fresh session for the user.
func (m *SessionManager) Create(user User) *Session {
	token := newToken()
	s := &Session{
		Token:     token,
		User:      user,
		ExpiresAt: time.Now().Add(m.TTL),
	}
	m.mu.Lock()
	m.sessions[token] = s
	m.mu.Unlock()
	return s
}

// Get resolves a token, pruning it if expired and sliding the expiry
// otherwise. The returned session is a copy.
func (m *SessionManager) Get(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return Session{}, false
	}
	if now.After(s.ExpiresAt) {
		delete(m.sessions, token)
		return Session{}, false
	}
	s.ExpiresAt = now.Add(m.TTL)
	return *s, true
}

// Delete removes a session (logout).
func (m *SessionManager) Delete(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

func newToken() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
