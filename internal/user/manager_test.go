package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greymarch/greymarch-server/internal/auth"
	"github.com/greymarch/greymarch-server/internal/repository"
)

// fakeStore keeps accounts in memory so the manager is tested without a
// database.
type fakeStore struct {
	byName  map[string]*repository.User
	byEmail map[string]*repository.User
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byName:  make(map[string]*repository.User),
		byEmail: make(map[string]*repository.User),
	}
}

func (s *fakeStore) GetByName(_ context.Context, name string) (*repository.User, error) {
	return s.byName[name], nil
}

func (s *fakeStore) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	return s.byEmail[email], nil
}

func (s *fakeStore) Create(_ context.Context, name, email, passwordHash string) (*repository.User, error) {
	s.nextID++
	u := &repository.User{ID: s.nextID, Name: name, Email: email, PasswordHash: passwordHash}
	s.byName[name] = u
	if email != "" {
		s.byEmail[email] = u
	}
	return u, nil
}

func (s *fakeStore) UpdatePassword(_ context.Context, name, passwordHash string) error {
	u, ok := s.byName[name]
	if !ok {
		return assert.AnError
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *fakeStore) TouchLastSeen(_ context.Context, _ string) error { return nil }

func TestManager_RegisterAndAuthenticate(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, m.Register(ctx, "Kestrel", "sword-and-board", "kestrel@greymarch.dev"))

	u, err := m.Authenticate(ctx, "kestrel", "sword-and-board")
	require.NoError(t, err)
	assert.Equal(t, "kestrel", u.Name, "names are stored lowercased")
	assert.Equal(t, "kestrel@greymarch.dev", u.Email)

	// Mixed-case login resolves to the same account.
	u2, err := m.Authenticate(ctx, "KESTREL", "sword-and-board")
	require.NoError(t, err)
	assert.Equal(t, u.ID, u2.ID)
}

func TestManager_AuthenticateRejectsBadCredentials(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, m.Register(ctx, "kestrel", "sword-and-board", ""))

	_, err := m.Authenticate(ctx, "kestrel", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = m.Authenticate(ctx, "nobody", "sword-and-board")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown user reads the same as a bad password")
}

func TestManager_RegisterValidation(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, zap.NewNop())
	ctx := context.Background()

	assert.Error(t, m.Register(ctx, "ab", "long-enough-pass", ""), "too short")
	assert.Error(t, m.Register(ctx, "this_name_is_far_too_long_to_use", "long-enough-pass", ""))
	assert.Error(t, m.Register(ctx, "bad name", "long-enough-pass", ""), "spaces rejected")
	assert.Error(t, m.Register(ctx, "kestrel", "short", ""), "password too short")
	assert.Error(t, m.Register(ctx, "kestrel", "long-enough-pass", "not-an-email"))
	assert.Error(t, m.Register(ctx, "kestrel", "long-enough-pass", "@leading.at"))

	require.NoError(t, m.Register(ctx, "kestrel", "long-enough-pass", ""))
	assert.ErrorIs(t, m.Register(ctx, "kestrel", "other-password-1", ""), ErrNameTaken)

	require.NoError(t, m.Register(ctx, "corvus", "long-enough-pass", "corvus@greymarch.dev"))
	err := m.Register(ctx, "magpie", "long-enough-pass", "corvus@greymarch.dev")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestManager_ChangePassword(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, m.Register(ctx, "kestrel", "original-pass", ""))
	require.NoError(t, m.ChangePassword(ctx, "kestrel", "replacement-pass"))

	_, err := m.Authenticate(ctx, "kestrel", "original-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	u, err := m.Authenticate(ctx, "kestrel", "replacement-pass")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(u.PasswordHash, "replacement-pass"))

	assert.Error(t, m.ChangePassword(ctx, "kestrel", "short"))
}

func TestManager_ConnectRoster(t *testing.T) {
	m := NewManager(newFakeStore(), zap.NewNop())
	ctx := context.Background()

	assert.False(t, m.IsConnected("kestrel"))
	assert.Equal(t, 0, m.ConnectedCount())

	m.UserConnect(ctx, "kestrel", "sess-1")
	m.UserConnect(ctx, "corvus", "sess-2")

	assert.True(t, m.IsConnected("kestrel"))
	assert.Equal(t, 2, m.ConnectedCount())
	assert.ElementsMatch(t, []string{"kestrel", "corvus"}, m.ConnectedUsers())

	// Reconnecting replaces the session binding rather than duplicating.
	m.UserConnect(ctx, "kestrel", "sess-3")
	assert.Equal(t, 2, m.ConnectedCount())

	m.UserDisconnect(ctx, "kestrel")
	assert.False(t, m.IsConnected("kestrel"))
	assert.Equal(t, 1, m.ConnectedCount())
}
