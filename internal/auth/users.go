// Package auth holds the web users, password verification with
// brute-force lockout, and the cookie session registry.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLockedOut          = errors.New("account temporarily locked")
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the public identity; the password hash never leaves the store.
type User struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Credential seeds one account into the store.
type Credential struct {
	Username string
	Password string
	Name     string
	Role     Role
}

// HashPassword returns the hex SHA-256 of the password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

type attemptRecord struct {
	count int
	last  time.Time
}

// Store keeps the configured accounts and per-username failed-attempt
// counters. After MaxAttempts consecutive failures the account locks
// for LockoutDuration.
type Store struct {
	MaxAttempts     int
	LockoutDuration time.Duration

	mu       sync.Mutex
	users    map[string]User
	hashes   map[string]string
	attempts map[string]attemptRecord
}

// NewStore seeds the accounts. Defaults: 5 attempts, 15 minute lockout.
func NewStore(creds []Credential) *Store {
	s := &Store{
		MaxAttempts:     5,
		LockoutDuration: 15 * time.Minute,
		users:           make(map[string]User, len(creds)),
		hashes:          make(map[string]string, len(creds)),
		attempts:        make(map[string]attemptRecord),
	}
	for _, c := range creds {
		username := strings.TrimSpace(c.Username)
		if username == "" || c.Password == "" {
			continue
		}
		role := c.Role
		if role != RoleAdmin {
			role = RoleUser
		}
		s.users[username] = User{Username: username, Name: c.Name, Role: role}
		s.hashes[username] = HashPassword(c.Password)
	}
	return s
}

// Authenticate verifies the password, enforcing the lockout window.
// Failures for unknown usernames count toward lockout too, so probing
// for valid accounts costs the same as guessing passwords.
func (s *Store) Authenticate(username, password string) (User, error) {
	username = strings.TrimSpace(username)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.attempts[username]; ok {
		if now.Sub(rec.last) > s.LockoutDuration {
			delete(s.attempts, username)
		} else if rec.count >= s.MaxAttempts {
			return User{}, ErrLockedOut
		}
	}

	hash, known := s.hashes[username]
	supplied := HashPassword(password)
	if !known || subtle.ConstantTimeCompare([]byte(hash), []byte(supplied)) != 1 {
		rec := s.attempts[username]
		rec.count++
		rec.last = now
		s.attempts[username] = rec
		return User{}, ErrInvalidCredentials
	}

	delete(s.attempts, username)
	return s.users[username], nil
}

// Lookup returns the public identity for a username.
func (s *Store) Lookup(username string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	return u, ok
}

// List returns all accounts sorted by username.
func (s *Store) List() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
