package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greymarch/greymarch-server/internal/actor"
	"github.com/greymarch/greymarch-server/internal/auth"
	"github.com/greymarch/greymarch-server/internal/config"
	"github.com/greymarch/greymarch-server/internal/encounter"
	"github.com/greymarch/greymarch-server/internal/repository"
	"github.com/greymarch/greymarch-server/internal/rules"
	"github.com/greymarch/greymarch-server/internal/session"
	"github.com/greymarch/greymarch-server/internal/user"
)

// ==================== fakes ====================

type fakeUserStore struct {
	byName  map[string]*repository.User
	byEmail map[string]*repository.User
	nextID  int64
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byName:  make(map[string]*repository.User),
		byEmail: make(map[string]*repository.User),
	}
}

func (s *fakeUserStore) GetByName(_ context.Context, name string) (*repository.User, error) {
	return s.byName[name], nil
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	return s.byEmail[email], nil
}

func (s *fakeUserStore) Create(_ context.Context, name, email, passwordHash string) (*repository.User, error) {
	s.nextID++
	u := &repository.User{ID: s.nextID, Name: name, Email: email, PasswordHash: passwordHash}
	s.byName[name] = u
	if email != "" {
		s.byEmail[email] = u
	}
	return u, nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, name, passwordHash string) error {
	if u, ok := s.byName[name]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (s *fakeUserStore) TouchLastSeen(_ context.Context, _ string) error { return nil }

type fakeArchetypeStore struct {
	docs map[string]actor.Archetype
}

func newFakeArchetypeStore() *fakeArchetypeStore {
	return &fakeArchetypeStore{docs: make(map[string]actor.Archetype)}
}

func (s *fakeArchetypeStore) SaveArchetype(_ context.Context, a actor.Archetype) error {
	s.docs[a.Name] = a
	return nil
}

func (s *fakeArchetypeStore) GetArchetype(_ context.Context, name string) (*actor.Archetype, error) {
	a, ok := s.docs[name]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *fakeArchetypeStore) ListArchetypes(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(s.docs))
	for name := range s.docs {
		names = append(names, name)
	}
	return names, nil
}

type fakeResultStore struct {
	tests   int
	opposed int
}

func (s *fakeResultStore) RecordTest(_ context.Context, _ string, _ int, _ *rules.SuccessTest) error {
	s.tests++
	return nil
}

func (s *fakeResultStore) RecordOpposed(_ context.Context, _ string, _ int, _ *rules.OpposedTest) error {
	s.opposed++
	return nil
}

// ==================== harness ====================

type testHarness struct {
	gateway    *Gateway
	server     *httptest.Server
	sessions   session.Manager
	users      user.Manager
	userStore  *fakeUserStore
	archetypes *fakeArchetypeStore
	results    *fakeResultStore
	encounters *encounter.Manager
	tokens     *auth.TokenStore
	cancel     context.CancelFunc
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.AdminPassword = "table-admin-pass"
	cfg.Server.JournalDir = t.TempDir()

	logger := zap.NewNop()
	sessions := session.NewManager(cfg.Server.LeasePeriod, logger)
	userStore := newFakeUserStore()
	users := user.NewManager(userStore, logger)
	archetypes := newFakeArchetypeStore()
	results := &fakeResultStore{}
	encounters := encounter.NewManager(logger)
	tokens := auth.NewTokenStore(time.Minute)

	g := NewGateway(cfg, sessions, users, userStore, archetypes, results, encounters, tokens, "test", logger)

	ctx, cancel := context.WithCancel(context.Background())
	g.StartHub(ctx)

	srv := httptest.NewServer(g.Handler())

	h := &testHarness{
		gateway:    g,
		server:     srv,
		sessions:   sessions,
		users:      users,
		userStore:  userStore,
		archetypes: archetypes,
		results:    results,
		encounters: encounters,
		tokens:     tokens,
		cancel:     cancel,
	}
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h
}

// postJSON hits path with body and decodes the response into out.
func (h *testHarness) postJSON(t *testing.T, path, sessionID string, body, out any) int {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *testHarness) getJSON(t *testing.T, path, sessionID string, out any) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// registerAndLogin creates an account and returns its session ID.
func (h *testHarness) registerAndLogin(t *testing.T, username string) string {
	t.Helper()

	status := h.postJSON(t, "/api/register", "", registerRequest{
		Username: username,
		Password: "a-long-password",
	}, nil)
	require.Equal(t, http.StatusOK, status)

	var resp loginResponse
	status = h.postJSON(t, "/api/login", "", loginRequest{
		Username: username,
		Password: "a-long-password",
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func (h *testHarness) adminLogin(t *testing.T) string {
	t.Helper()

	var resp loginResponse
	status := h.postJSON(t, "/api/admin/login", "", adminLoginRequest{
		Password: "table-admin-pass",
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	return resp.SessionID
}

func testArchetype() actor.Archetype {
	return actor.Archetype{
		Name: "Sellsword",
		Attributes: []actor.AttributeDef{
			{Name: "Might", Base: 55},
			{Name: "Agility", Base: 45},
		},
		Skills: []actor.SkillDef{
			{Name: "Blades", Attribute: "Might", Training: 10},
			{Name: "Dodge", Attribute: "Agility", Training: 5},
		},
		Fate: 2,
	}
}

// ==================== REST tests ====================

func TestGateway_RegisterAndLogin(t *testing.T) {
	h := newTestHarness(t)

	sessionID := h.registerAndLogin(t, "kestrel")

	sess, ok := h.sessions.GetSession(sessionID)
	require.True(t, ok)
	assert.Equal(t, "kestrel", sess.GetUserID())
	assert.False(t, sess.IsAdminSession())
	assert.True(t, h.users.IsConnected("kestrel"))
}

func TestGateway_LoginRejectsBadPassword(t *testing.T) {
	h := newTestHarness(t)
	h.registerAndLogin(t, "kestrel")

	var resp loginResponse
	status := h.postJSON(t, "/api/login", "", loginRequest{
		Username: "kestrel",
		Password: "wrong-password",
	}, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, resp.Success)
}

func TestGateway_ProtectedEndpointNeedsSession(t *testing.T) {
	h := newTestHarness(t)

	status := h.postJSON(t, "/api/encounters", "", createEncounterRequest{Name: "ambush"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = h.postJSON(t, "/api/encounters", "no-such-session", createEncounterRequest{Name: "ambush"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGateway_AdminLoginAndState(t *testing.T) {
	h := newTestHarness(t)

	adminSession := h.adminLogin(t)
	userSession := h.registerAndLogin(t, "kestrel")

	var state stateResponse
	status := h.getJSON(t, "/api/state", adminSession, &state)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, state.Success)
	assert.Equal(t, 2, state.ActiveSessions)
	assert.Contains(t, state.ConnectedUsers, "kestrel")

	// Non-admin sessions are refused.
	status = h.getJSON(t, "/api/state", userSession, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestGateway_AdminLoginRejectsBadPassword(t *testing.T) {
	h := newTestHarness(t)

	var resp loginResponse
	status := h.postJSON(t, "/api/admin/login", "", adminLoginRequest{Password: "nope"}, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, resp.Success)
}

func TestGateway_ArchetypeSaveRequiresAdmin(t *testing.T) {
	h := newTestHarness(t)
	userSession := h.registerAndLogin(t, "kestrel")

	status := h.postJSON(t, "/api/archetypes", userSession, testArchetype(), nil)
	assert.Equal(t, http.StatusForbidden, status)

	adminSession := h.adminLogin(t)
	status = h.postJSON(t, "/api/archetypes", adminSession, testArchetype(), nil)
	assert.Equal(t, http.StatusOK, status)

	var list archetypeListResponse
	status = h.getJSON(t, "/api/archetypes", userSession, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"Sellsword"}, list.Archetypes)
}

func TestGateway_EncounterLifecycle(t *testing.T) {
	h := newTestHarness(t)
	gmSession := h.registerAndLogin(t, "gamemaster")
	adminSession := h.adminLogin(t)

	require.NoError(t, h.archetypes.SaveArchetype(context.Background(), testArchetype()))

	var created createEncounterResponse
	status := h.postJSON(t, "/api/encounters", gmSession, createEncounterRequest{Name: "ambush at dusk"}, &created)
	require.Equal(t, http.StatusOK, status)
	require.True(t, created.Success)
	require.NotEmpty(t, created.EncounterID)

	var spawned spawnActorResponse
	status = h.postJSON(t, "/api/encounters/"+created.EncounterID+"/actors", gmSession,
		spawnActorRequest{Archetype: "Sellsword", Name: "Rook"}, &spawned)
	require.Equal(t, http.StatusOK, status)
	require.True(t, spawned.Success)
	assert.Equal(t, "Rook", spawned.Actor.Name)
	assert.NotEmpty(t, spawned.Actor.ID)

	var got encounterResponse
	status = h.getJSON(t, "/api/encounters/"+created.EncounterID, gmSession, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ambush at dusk", got.Encounter.Name)
	assert.Len(t, got.Encounter.Actors, 1)

	// Spawning from a missing archetype fails cleanly.
	status = h.postJSON(t, "/api/encounters/"+created.EncounterID+"/actors", gmSession,
		spawnActorRequest{Archetype: "Lich"}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Only the GM (or an admin) may close.
	otherSession := h.registerAndLogin(t, "bystander")
	status = h.postJSON(t, "/api/encounters/"+created.EncounterID+"/close", otherSession, struct{}{}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = h.postJSON(t, "/api/encounters/"+created.EncounterID+"/close", adminSession, struct{}{}, nil)
	assert.Equal(t, http.StatusOK, status)

	enc, ok := h.encounters.GetEncounter(created.EncounterID)
	require.True(t, ok)
	assert.Equal(t, encounter.StateClosed, enc.GetState())
}

func TestGateway_PasswordResetFlow(t *testing.T) {
	h := newTestHarness(t)

	status := h.postJSON(t, "/api/register", "", registerRequest{
		Username: "kestrel",
		Password: "original-pass",
		Email:    "kestrel@greymarch.dev",
	}, nil)
	require.Equal(t, http.StatusOK, status)

	// The request endpoint never leaks account existence.
	status = h.postJSON(t, "/api/password-reset/request", "", passwordResetRequest{Email: "kestrel@greymarch.dev"}, nil)
	assert.Equal(t, http.StatusOK, status)
	status = h.postJSON(t, "/api/password-reset/request", "", passwordResetRequest{Email: "nobody@greymarch.dev"}, nil)
	assert.Equal(t, http.StatusOK, status)

	// Grab a token directly; the handler only logs it.
	token, err := h.tokens.GenerateToken("kestrel@greymarch.dev")
	require.NoError(t, err)

	status = h.postJSON(t, "/api/password-reset/confirm", "", passwordResetConfirm{
		Email:       "kestrel@greymarch.dev",
		Token:       "bogus",
		NewPassword: "replacement-pass",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = h.postJSON(t, "/api/password-reset/confirm", "", passwordResetConfirm{
		Email:       "kestrel@greymarch.dev",
		Token:       token,
		NewPassword: "replacement-pass",
	}, nil)
	require.Equal(t, http.StatusOK, status)

	var resp loginResponse
	status = h.postJSON(t, "/api/login", "", loginRequest{Username: "kestrel", Password: "replacement-pass"}, &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)
}

func TestGateway_LogoutRemovesSession(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.registerAndLogin(t, "kestrel")

	status := h.postJSON(t, "/api/logout", sessionID, struct{}{}, nil)
	require.Equal(t, http.StatusOK, status)

	_, ok := h.sessions.GetSession(sessionID)
	assert.False(t, ok)
	assert.False(t, h.users.IsConnected("kestrel"))
}

func TestGateway_HealthIsPublic(t *testing.T) {
	h := newTestHarness(t)

	var body map[string]string
	status := h.getJSON(t, "/healthz", "", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}
