package client

import "sync"

// Session holds the bearer token and current user identity. Every gateway
// call reads the token from here; a 401 response clears it.
type Session interface {
	Token() string
	UserID() int
	Clear()
}

// MemorySession is an in-memory Session implementation.
type MemorySession struct {
	mu     sync.RWMutex
	token  string
	userID int
}

// NewMemorySession constructs a MemorySession for an authenticated user.
func NewMemorySession(token string, userID int) *MemorySession {
	return &MemorySession{token: token, userID: userID}
}

func (s *MemorySession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemorySession) UserID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SetToken replaces the bearer token after a re-authentication.
func (s *MemorySession) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear drops the token, leaving the session unauthenticated.
func (s *MemorySession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}
