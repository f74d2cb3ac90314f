package session

import (
	"sync"
	"time"
)

// Preferences are per-client settings a session carries between calls.
type Preferences struct {
	Theme                  string `json:"theme"`
	SkipSituationalPrompts bool   `json:"skip_situational_prompts"`
}

// Session is one connected client. ID and Host are fixed at creation;
// everything else is guarded by the mutex.
type Session struct {
	ID   string
	Host string

	mu         sync.RWMutex
	userID     string
	admin      bool
	created    time.Time
	lastActive time.Time
	prefs      Preferences
}

func newSession(id, host string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Host:       host,
		created:    now,
		lastActive: now,
	}
}

// SetUserID binds the session to an authenticated user.
func (s *Session) SetUserID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

// GetUserID returns the bound user, or "" before login.
func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SetAdmin marks or unmarks the session as an admin session.
func (s *Session) SetAdmin(admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = admin
}

// IsAdminSession reports whether the session logged in as admin.
func (s *Session) IsAdminSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admin
}

// UpdateActivity refreshes the lease clock.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the last time the client was heard from.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Expired reports whether the session has been idle past the lease.
// A non-positive lease never expires.
func (s *Session) Expired(lease time.Duration) bool {
	if lease <= 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActive) > lease
}

// SetPreferences replaces the client preferences.
func (s *Session) SetPreferences(prefs Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = prefs
}

// GetPreferences returns the client preferences.
func (s *Session) GetPreferences() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}
