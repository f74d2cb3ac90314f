// Package user manages account registration, authentication, and the
// connected-user roster.
package user

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/greymarch/greymarch-server/internal/auth"
	"github.com/greymarch/greymarch-server/internal/repository"
)

var (
	// ErrInvalidCredentials hides whether the account or the password was
	// wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrNameTaken reports a registration against an existing account name.
	ErrNameTaken = errors.New("username already taken")
	// ErrEmailTaken reports a registration against an existing email.
	ErrEmailTaken = errors.New("email already registered")
)

const (
	minNameLen     = 3
	maxNameLen     = 24
	minPasswordLen = 8
)

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Store is the persistence surface the manager needs. It is satisfied by
// *repository.UserRepository.
type Store interface {
	GetByName(ctx context.Context, name string) (*repository.User, error)
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
	Create(ctx context.Context, name, email, passwordHash string) (*repository.User, error)
	UpdatePassword(ctx context.Context, name, passwordHash string) error
	TouchLastSeen(ctx context.Context, name string) error
}

// Manager is the account service used by the gateway.
type Manager interface {
	// Authenticate verifies the password for name and returns the account.
	Authenticate(ctx context.Context, name, password string) (*repository.User, error)
	// Register creates an account after validating the inputs. Email is
	// optional.
	Register(ctx context.Context, name, password, email string) error
	// ChangePassword replaces the password for an existing account.
	ChangePassword(ctx context.Context, name, newPassword string) error

	// UserConnect binds name to a session in the connected roster.
	UserConnect(ctx context.Context, name, sessionID string)
	// UserDisconnect removes name from the connected roster.
	UserDisconnect(ctx context.Context, name string)
	// IsConnected reports whether name is in the roster.
	IsConnected(name string) bool
	// ConnectedCount returns the roster size.
	ConnectedCount() int
	// ConnectedUsers returns the roster names, unordered.
	ConnectedUsers() []string
}

// NewManager creates a user manager backed by store.
func NewManager(store Store, logger *zap.Logger) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &localManager{
		store:     store,
		logger:    logger,
		connected: make(map[string]string),
	}
}

type localManager struct {
	store  Store
	logger *zap.Logger

	mu        sync.RWMutex
	connected map[string]string // name -> session ID
}

func (m *localManager) Authenticate(ctx context.Context, name, password string) (*repository.User, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	u, err := m.store.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	if err := m.store.TouchLastSeen(ctx, name); err != nil {
		m.logger.Warn("failed to update last seen",
			zap.String("username", name),
			zap.Error(err),
		)
	}
	return u, nil
}

func (m *localManager) Register(ctx context.Context, name, password, email string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	email = strings.ToLower(strings.TrimSpace(email))

	if err := validateName(name); err != nil {
		return err
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	if email != "" && !strings.Contains(email[1:], "@") {
		return errors.New("invalid email address")
	}

	existing, err := m.store.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("checking username: %w", err)
	}
	if existing != nil {
		return ErrNameTaken
	}

	if email != "" {
		byEmail, err := m.store.GetByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("checking email: %w", err)
		}
		if byEmail != nil {
			return ErrEmailTaken
		}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	u, err := m.store.Create(ctx, name, email, hash)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	m.logger.Info("user registered",
		zap.String("username", u.Name),
		zap.Int64("user_id", u.ID),
	)
	return nil
}

func (m *localManager) ChangePassword(ctx context.Context, name, newPassword string) error {
	name = strings.ToLower(strings.TrimSpace(name))

	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := m.store.UpdatePassword(ctx, name, hash); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	m.logger.Info("password changed", zap.String("username", name))
	return nil
}

func (m *localManager) UserConnect(ctx context.Context, name, sessionID string) {
	m.mu.Lock()
	m.connected[name] = sessionID
	m.mu.Unlock()

	m.logger.Debug("user connected",
		zap.String("username", name),
		zap.String("session_id", sessionID),
	)
}

func (m *localManager) UserDisconnect(ctx context.Context, name string) {
	m.mu.Lock()
	delete(m.connected, name)
	m.mu.Unlock()

	m.logger.Debug("user disconnected", zap.String("username", name))
}

func (m *localManager) IsConnected(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.connected[name]
	return ok
}

func (m *localManager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connected)
}

func (m *localManager) ConnectedUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.connected))
	for name := range m.connected {
		names = append(names, name)
	}
	return names
}

func validateName(name string) error {
	if len(name) < minNameLen || len(name) > maxNameLen {
		return fmt.Errorf("username must be %d-%d characters", minNameLen, maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return errors.New("username may contain only letters, digits, and underscores")
	}
	return nil
}
