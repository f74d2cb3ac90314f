package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const cleanupInterval = 30 * time.Second

// Manager tracks live client sessions and reaps idle ones.
type Manager interface {
	// CreateSession registers a new session under the given id.
	CreateSession(id, host string) *Session
	// GetSession looks up a session by id.
	GetSession(id string) (*Session, bool)
	// RemoveSession drops a session. Unknown ids are ignored.
	RemoveSession(id string)
	// UpdateActivity refreshes the lease clock for a session.
	UpdateActivity(id string)
	// GetActiveSessions returns the number of live sessions.
	GetActiveSessions() int
	// SetMaxSessions caps concurrent sessions. At the cap, creating a
	// session evicts the longest-idle one. Non-positive is unlimited.
	SetMaxSessions(n int)
	// CleanupExpiredSessions reaps idle sessions until the context is
	// cancelled. Meant to run as a goroutine.
	CleanupExpiredSessions(ctx context.Context)
	// CloseAll drops every session. Called during shutdown.
	CloseAll()
}

// NewManager creates a session manager. Sessions idle longer than the
// lease period are removed by CleanupExpiredSessions.
func NewManager(lease time.Duration, logger *zap.Logger) Manager {
	return newLocalManager(lease, logger)
}

type localManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	lease       time.Duration
	maxSessions int
	logger      *zap.Logger
}

func newLocalManager(lease time.Duration, logger *zap.Logger) *localManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &localManager{
		sessions: make(map[string]*Session),
		lease:    lease,
		logger:   logger,
	}
}

func (m *localManager) SetMaxSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSessions = n
}

func (m *localManager) CreateSession(id, host string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		if _, exists := m.sessions[id]; !exists {
			m.evictStalest()
		}
	}

	sess := newSession(id, host)
	m.sessions[id] = sess
	m.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("host", host),
	)
	return sess
}

// evictStalest removes the longest-idle session. Callers hold the lock.
func (m *localManager) evictStalest() {
	var victim *Session
	for _, sess := range m.sessions {
		if victim == nil || sess.LastActive().Before(victim.LastActive()) {
			victim = sess
		}
	}
	if victim == nil {
		return
	}
	delete(m.sessions, victim.ID)
	m.logger.Warn("session limit reached, evicting stalest session",
		zap.String("session_id", victim.ID),
		zap.Time("last_active", victim.LastActive()),
	)
}

func (m *localManager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

func (m *localManager) RemoveSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	m.logger.Info("session removed", zap.String("session_id", id))
}

func (m *localManager) UpdateActivity(id string) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		sess.UpdateActivity()
	}
}

func (m *localManager) GetActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *localManager) CleanupExpiredSessions(ctx context.Context) {
	if m.lease <= 0 {
		return
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

func (m *localManager) reapExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, sess := range m.sessions {
		if sess.Expired(m.lease) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	if len(expired) > 0 {
		m.logger.Info("expired sessions removed",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.sessions)),
		)
	}
}

func (m *localManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := len(m.sessions)
	m.sessions = make(map[string]*Session)
	m.logger.Info("all sessions closed", zap.Int("count", count))
}
