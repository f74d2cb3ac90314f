// Package server exposes the rules engine over HTTP and WebSocket: REST for
// accounts and encounter setup, WS for live play.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
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

// ArchetypeStore is the slice of the actor repository the gateway needs.
// Satisfied by *repository.ActorRepository.
type ArchetypeStore interface {
	SaveArchetype(ctx context.Context, a actor.Archetype) error
	GetArchetype(ctx context.Context, name string) (*actor.Archetype, error)
	ListArchetypes(ctx context.Context) ([]string, error)
}

// ResultStore persists evaluated tests. Satisfied by
// *repository.ResultRepository.
type ResultStore interface {
	RecordTest(ctx context.Context, encounterID string, round int, t *rules.SuccessTest) error
	RecordOpposed(ctx context.Context, encounterID string, round int, o *rules.OpposedTest) error
}

// UserDirectory resolves accounts by email for password resets. Satisfied
// by *repository.UserRepository.
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
}

// Gateway is the HTTP+WS front of the server. Stores may be nil; the
// affected endpoints then report the feature as unavailable.
type Gateway struct {
	config        *config.Config
	logger        *zap.Logger
	serverVersion string

	sessionMgr   session.Manager
	userMgr      user.Manager
	userDir      UserDirectory
	archetypes   ArchetypeStore
	results      ResultStore
	encounterMgr *encounter.Manager
	tokenStore   *auth.TokenStore
	settings     actor.Settings

	hub *Hub

	// lastTests remembers the latest evaluated test per encounter/actor so
	// a fate revision can re-read it.
	lastMu    sync.RWMutex
	lastTests map[string]*rules.SuccessTest
}

// NewGateway assembles the gateway. Run the hub (StartHub) before serving.
func NewGateway(
	cfg *config.Config,
	sessionMgr session.Manager,
	userMgr user.Manager,
	userDir UserDirectory,
	archetypes ArchetypeStore,
	results ResultStore,
	encounterMgr *encounter.Manager,
	tokenStore *auth.TokenStore,
	serverVersion string,
	logger *zap.Logger,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		config:        cfg,
		logger:        logger,
		serverVersion: serverVersion,
		sessionMgr:    sessionMgr,
		userMgr:       userMgr,
		userDir:       userDir,
		archetypes:    archetypes,
		results:       results,
		encounterMgr:  encounterMgr,
		tokenStore:    tokenStore,
		settings:      cfg.Rules.Settings(),
		hub:           newHub(logger),
		lastTests:     make(map[string]*rules.SuccessTest),
	}
}

// StartHub runs the WS hub until ctx is done.
func (g *Gateway) StartHub(ctx context.Context) {
	go g.hub.Run(ctx)
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", g.handleHealth)

	mux.HandleFunc("POST /api/register", g.handleRegister)
	mux.HandleFunc("POST /api/login", g.handleLogin)
	mux.HandleFunc("POST /api/admin/login", g.handleAdminLogin)
	mux.HandleFunc("POST /api/logout", g.handleLogout)
	mux.HandleFunc("POST /api/password-reset/request", g.handlePasswordResetRequest)
	mux.HandleFunc("POST /api/password-reset/confirm", g.handlePasswordResetConfirm)

	mux.HandleFunc("GET /api/state", g.handleState)
	mux.HandleFunc("GET /api/archetypes", g.handleListArchetypes)
	mux.HandleFunc("POST /api/archetypes", g.handleSaveArchetype)

	mux.HandleFunc("POST /api/encounters", g.handleCreateEncounter)
	mux.HandleFunc("GET /api/encounters", g.handleListEncounters)
	mux.HandleFunc("GET /api/encounters/{id}", g.handleGetEncounter)
	mux.HandleFunc("POST /api/encounters/{id}/close", g.handleCloseEncounter)
	mux.HandleFunc("POST /api/encounters/{id}/actors", g.handleSpawnActor)

	mux.HandleFunc("GET /ws", g.handleWS)

	return ChainMiddleware(mux,
		RecoverMiddleware(g.logger),
		LoggingMiddleware(g.logger),
		SessionMiddleware(g.sessionMgr),
	)
}

// ==================== JSON plumbing ====================

type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func errorBody(message string) apiError {
	return apiError{Error: message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// ==================== Health & accounts ====================

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": g.serverVersion,
	})
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

type registerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("username and password are required"))
		return
	}

	if err := g.userMgr.Register(r.Context(), req.Username, req.Password, req.Email); err != nil {
		g.logger.Warn("user registration failed",
			zap.String("username", req.Username),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{Success: true})
}

type loginRequest struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	SessionID        string `json:"session_id,omitempty"`
	RestoreSessionID string `json:"restore_session_id,omitempty"`
}

type loginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("username and password are required"))
		return
	}

	u, err := g.userMgr.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		g.logger.Warn("login failed",
			zap.String("username", req.Username),
			zap.Error(err),
		)
		writeJSON(w, http.StatusUnauthorized, errorBody(err.Error()))
		return
	}

	var sess *session.Session
	if req.RestoreSessionID != "" {
		if existing, ok := g.sessionMgr.GetSession(req.RestoreSessionID); ok {
			sess = existing
		}
	}
	if sess == nil {
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		} else {
			// Ensure no stale session exists with the same ID.
			g.sessionMgr.RemoveSession(sessionID)
		}
		sess = g.sessionMgr.CreateSession(sessionID, remoteHost(r))
	}

	sess.SetUserID(u.Name)
	sess.SetAdmin(false)
	sess.UpdateActivity()

	g.userMgr.UserConnect(r.Context(), u.Name, sess.ID)

	g.logger.Info("user logged in",
		zap.String("username", u.Name),
		zap.String("session_id", sess.ID),
		zap.String("host", sess.Host),
	)

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		SessionID: sess.ID,
		UserID:    strconv.FormatInt(u.ID, 10),
	})
}

type adminLoginRequest struct {
	Password  string `json:"password"`
	SessionID string `json:"session_id,omitempty"`
}

func (g *Gateway) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if g.config.Auth.AdminPassword == "" {
		writeJSON(w, http.StatusForbidden, errorBody("admin access not configured"))
		return
	}

	var req adminLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}
	if req.Password != g.config.Auth.AdminPassword {
		g.logger.Warn("admin authentication failed", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid admin password"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else {
		g.sessionMgr.RemoveSession(sessionID)
	}

	sess := g.sessionMgr.CreateSession(sessionID, remoteHost(r))
	sess.SetAdmin(true)
	sess.SetUserID("admin")
	sess.UpdateActivity()

	g.logger.Info("admin logged in",
		zap.String("session_id", sess.ID),
		zap.String("host", sess.Host),
	)

	writeJSON(w, http.StatusOK, loginResponse{Success: true, SessionID: sess.ID})
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("session required"))
		return
	}

	if userID := sess.GetUserID(); userID != "" {
		g.userMgr.UserDisconnect(r.Context(), userID)
	}
	g.sessionMgr.RemoveSession(sess.ID)

	g.logger.Info("user logged out", zap.String("session_id", sess.ID))
	writeJSON(w, http.StatusOK, registerResponse{Success: true})
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

// handlePasswordResetRequest issues a one-time token. The token is logged
// for the operator to relay; the response never confirms whether the email
// exists.
func (g *Gateway) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email is required"))
		return
	}

	if g.userDir == nil || g.tokenStore == nil {
		writeJSON(w, http.StatusOK, registerResponse{Success: true})
		return
	}

	u, err := g.userDir.GetByEmail(r.Context(), email)
	if err != nil {
		g.logger.Error("password reset lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
		return
	}
	if u != nil {
		token, err := g.tokenStore.GenerateToken(email)
		if err != nil {
			g.logger.Error("failed to generate reset token", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
			return
		}
		g.logger.Info("password reset token issued",
			zap.String("username", u.Name),
			zap.String("token", token),
		)
	}

	writeJSON(w, http.StatusOK, registerResponse{Success: true})
}

type passwordResetConfirm struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (g *Gateway) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirm
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Token == "" || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email, token, and new_password are required"))
		return
	}

	if g.userDir == nil || g.tokenStore == nil || !g.tokenStore.ConsumeToken(email, req.Token) {
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid or expired token"))
		return
	}

	u, err := g.userDir.GetByEmail(r.Context(), email)
	if err != nil || u == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid or expired token"))
		return
	}

	if err := g.userMgr.ChangePassword(r.Context(), u.Name, req.NewPassword); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{Success: true})
}

// ==================== Admin & archetypes ====================

type stateResponse struct {
	Success          bool     `json:"success"`
	Version          string   `json:"version"`
	ActiveSessions   int      `json:"active_sessions"`
	ActiveEncounters int      `json:"active_encounters"`
	ConnectedUsers   []string `json:"connected_users"`
}

func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok || !sess.IsAdminSession() {
		writeJSON(w, http.StatusForbidden, errorBody("admin access required"))
		return
	}

	writeJSON(w, http.StatusOK, stateResponse{
		Success:          true,
		Version:          g.serverVersion,
		ActiveSessions:   g.sessionMgr.GetActiveSessions(),
		ActiveEncounters: g.encounterMgr.GetActiveEncounterCount(),
		ConnectedUsers:   g.userMgr.ConnectedUsers(),
	})
}

type archetypeListResponse struct {
	Success    bool     `json:"success"`
	Archetypes []string `json:"archetypes"`
}

func (g *Gateway) handleListArchetypes(w http.ResponseWriter, r *http.Request) {
	if g.archetypes == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("archetype store unavailable"))
		return
	}

	names, err := g.archetypes.ListArchetypes(r.Context())
	if err != nil {
		g.logger.Error("failed to list archetypes", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, archetypeListResponse{Success: true, Archetypes: names})
}

func (g *Gateway) handleSaveArchetype(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok || !sess.IsAdminSession() {
		writeJSON(w, http.StatusForbidden, errorBody("admin access required"))
		return
	}
	if g.archetypes == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("archetype store unavailable"))
		return
	}

	var arch actor.Archetype
	if err := decodeJSON(r, &arch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed archetype document"))
		return
	}
	if arch.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("archetype name is required"))
		return
	}

	if err := g.archetypes.SaveArchetype(r.Context(), arch); err != nil {
		g.logger.Error("failed to save archetype",
			zap.String("archetype", arch.Name),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
		return
	}

	g.logger.Info("archetype saved", zap.String("archetype", arch.Name))
	writeJSON(w, http.StatusOK, registerResponse{Success: true})
}

// ==================== Encounters ====================

type createEncounterRequest struct {
	Name string `json:"name"`
}

type createEncounterResponse struct {
	Success     bool   `json:"success"`
	EncounterID string `json:"encounter_id"`
}

func (g *Gateway) handleCreateEncounter(w http.ResponseWriter, r *http.Request) {
	_, user, ok := g.requireUser(w, r)
	if !ok {
		return
	}

	var req createEncounterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("encounter name is required"))
		return
	}

	enc := g.encounterMgr.CreateEncounter(strings.TrimSpace(req.Name), user)
	writeJSON(w, http.StatusOK, createEncounterResponse{Success: true, EncounterID: enc.ID})
}

type encounterListResponse struct {
	Success    bool                 `json:"success"`
	Encounters []encounter.Snapshot `json:"encounters"`
}

func (g *Gateway) handleListEncounters(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := g.requireUser(w, r); !ok {
		return
	}

	all := g.encounterMgr.GetAllEncounters()
	snaps := make([]encounter.Snapshot, 0, len(all))
	for _, enc := range all {
		snaps = append(snaps, enc.Snapshot())
	}

	writeJSON(w, http.StatusOK, encounterListResponse{Success: true, Encounters: snaps})
}

type encounterResponse struct {
	Success   bool               `json:"success"`
	Encounter encounter.Snapshot `json:"encounter"`
}

func (g *Gateway) handleGetEncounter(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := g.requireUser(w, r); !ok {
		return
	}

	enc, ok := g.encounterMgr.GetEncounter(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("encounter not found"))
		return
	}

	writeJSON(w, http.StatusOK, encounterResponse{Success: true, Encounter: enc.Snapshot()})
}

func (g *Gateway) handleCloseEncounter(w http.ResponseWriter, r *http.Request) {
	sess, user, ok := g.requireUser(w, r)
	if !ok {
		return
	}

	encounterID := r.PathValue("id")
	enc, found := g.encounterMgr.GetEncounter(encounterID)
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody("encounter not found"))
		return
	}
	if enc.GameMaster != user && !sess.IsAdminSession() {
		writeJSON(w, http.StatusForbidden, errorBody("only the game master may close the encounter"))
		return
	}

	// Persist the journal before the encounter goes away.
	if dir := g.config.Server.JournalDir; dir != "" {
		if err := enc.Journal().SaveToFile(dir, encounterID); err != nil {
			g.logger.Error("failed to save journal",
				zap.String("encounter_id", encounterID),
				zap.Error(err),
			)
		}
	}

	if err := g.encounterMgr.CloseEncounter(encounterID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{Success: true})
}

type spawnActorRequest struct {
	Archetype string `json:"archetype"`
	Name      string `json:"name,omitempty"`
}

type spawnActorResponse struct {
	Success bool           `json:"success"`
	Actor   actor.Snapshot `json:"actor"`
}

// handleSpawnActor instantiates an archetype into the encounter and runs
// the first trait pass so the snapshot carries settled values.
func (g *Gateway) handleSpawnActor(w http.ResponseWriter, r *http.Request) {
	_, user, ok := g.requireUser(w, r)
	if !ok {
		return
	}
	if g.archetypes == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("archetype store unavailable"))
		return
	}

	encounterID := r.PathValue("id")
	enc, found := g.encounterMgr.GetEncounter(encounterID)
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody("encounter not found"))
		return
	}

	var req spawnActorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}
	if req.Archetype == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("archetype is required"))
		return
	}

	arch, err := g.archetypes.GetArchetype(r.Context(), req.Archetype)
	if err != nil {
		g.logger.Error("failed to load archetype",
			zap.String("archetype", req.Archetype),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
		return
	}
	if arch == nil {
		writeJSON(w, http.StatusNotFound, errorBody("archetype not found"))
		return
	}
	if req.Name != "" {
		arch.Name = req.Name
	}

	a := actor.FromArchetype(*arch, g.settings)
	if err := a.RunPass(g.logger); err != nil {
		g.logger.Error("initial pass failed",
			zap.String("actor_id", a.ID()),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
		return
	}

	if err := enc.AddActor(user, a); err != nil {
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		return
	}

	g.logger.Info("actor spawned",
		zap.String("encounter_id", encounterID),
		zap.String("actor_id", a.ID()),
		zap.String("archetype", req.Archetype),
		zap.String("owner", user),
	)

	writeJSON(w, http.StatusOK, spawnActorResponse{Success: true, Actor: a.Snapshot()})
}

// requireUser pulls the authenticated session and its user out of the
// request, writing the error response itself when either is missing.
func (g *Gateway) requireUser(w http.ResponseWriter, r *http.Request) (*session.Session, string, bool) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("session required"))
		return nil, "", false
	}
	user := sess.GetUserID()
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody("session not associated with a user"))
		return nil, "", false
	}
	return sess, user, true
}

func remoteHost(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

// ==================== WS dispatch ====================

// handleClientMessage routes one frame from a client. Requests that may
// block on a situational prompt run in their own goroutine so the read
// pump stays free to deliver the prompt reply.
func (g *Gateway) handleClientMessage(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError("", "malformed message")
		return
	}

	g.sessionMgr.UpdateActivity(c.sessionID)

	switch env.Type {
	case MsgEncounterJoin:
		g.wsJoinEncounter(c, env.Data)
	case MsgEncounterLeave:
		g.wsLeaveEncounter(c)
	case MsgTestReply:
		g.wsTestReply(c, env.Data)
	case MsgTestRequest:
		go g.wsRunTest(c, env.Data)
	case MsgOpposedRequest:
		go g.wsRunOpposed(c, env.Data)
	case MsgFateRevise:
		go g.wsReviseFate(c, env.Data)
	case MsgActorPass:
		g.wsActorPass(c, env.Data)
	case MsgRoundAdvance:
		g.wsAdvanceRound(c, env.Data)
	case MsgJournalReplay:
		g.wsJournalReplay(c, env.Data)
	default:
		c.sendError(env.Type, "unknown message type")
	}
}

func (g *Gateway) wsJoinEncounter(c *Client, data json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.EncounterID == "" {
		c.sendError(MsgEncounterJoin, "encounter_id is required")
		return
	}

	enc, ok := g.encounterMgr.GetEncounter(p.EncounterID)
	if !ok {
		c.sendError(MsgEncounterJoin, "encounter not found")
		return
	}

	if prev := c.encounter(); prev != "" && prev != p.EncounterID {
		if prevEnc, found := g.encounterMgr.GetEncounter(prev); found {
			prevEnc.RemoveWatcher(c.user)
		}
	}

	enc.AddWatcher(c.user)
	c.setEncounter(p.EncounterID)

	g.logger.Info("user joined encounter",
		zap.String("encounter_id", p.EncounterID),
		zap.String("user", c.user),
	)

	c.sendEnvelope(MsgEncounterJoined, EncounterStatePayload{Encounter: enc.Snapshot()})
}

func (g *Gateway) wsLeaveEncounter(c *Client) {
	encounterID := c.encounter()
	if encounterID == "" {
		return
	}
	if enc, ok := g.encounterMgr.GetEncounter(encounterID); ok {
		enc.RemoveWatcher(c.user)
	}
	c.setEncounter("")
}

func (g *Gateway) wsTestReply(c *Client, data json.RawMessage) {
	var p TestReplyPayload
	if err := json.Unmarshal(data, &p); err != nil || p.PromptID == "" {
		c.sendError(MsgTestReply, "prompt_id is required")
		return
	}
	if !c.resolvePending(p) {
		c.sendError(MsgTestReply, "no such pending prompt")
	}
}

// resolveEncounterID prefers the payload's encounter, falling back to the
// one the client joined.
func (c *Client) resolveEncounterID(payloadID string) string {
	if payloadID != "" {
		return payloadID
	}
	return c.encounter()
}

func (g *Gateway) wsRunTest(c *Client, data json.RawMessage) {
	var p TestRequestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(MsgTestRequest, "malformed test request")
		return
	}
	encounterID := c.resolveEncounterID(p.EncounterID)
	if encounterID == "" || p.ActorID == "" || p.Skill == "" {
		c.sendError(MsgTestRequest, "encounter_id, actor_id, and skill are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), promptTimeout)
	defer cancel()

	test, err := g.encounterMgr.RunSkillTest(ctx, encounter.TestRequest{
		EncounterID: encounterID,
		ActorID:     p.ActorID,
		Skill:       p.Skill,
		User:        c.user,
		Admin:       c.admin,
		Label:       p.Label,
		SkipPrompt:  p.SkipPrompt || g.skipPromptsPreferred(c),
		Prompter:    &wsPrompter{client: c},
	})
	if err != nil {
		c.sendError(MsgTestRequest, err.Error())
		return
	}
	if test == nil {
		c.sendEnvelope(MsgTestDismissed, TestRequestPayload{
			EncounterID: encounterID,
			ActorID:     p.ActorID,
			Skill:       p.Skill,
		})
		return
	}
	if !test.Evaluated() {
		c.sendEnvelope(MsgTestBlocked, ErrorPayload{
			Request: MsgTestRequest,
			Message: "not permitted to test this actor",
		})
		return
	}

	g.rememberTest(encounterID, test)
	g.persistTest(encounterID, test)
	g.deliver(c, encounterID, MsgTestResult, testResultPayload(encounterID, test, false))
}

func (g *Gateway) wsRunOpposed(c *Client, data json.RawMessage) {
	var p OpposedRequestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(MsgOpposedRequest, "malformed opposed request")
		return
	}
	encounterID := c.resolveEncounterID(p.EncounterID)
	if encounterID == "" || p.Source.ActorID == "" || p.Target.ActorID == "" {
		c.sendError(MsgOpposedRequest, "encounter_id and both actors are required")
		return
	}

	tieBreak, err := parseTieBreak(p.TieBreak)
	if err != nil {
		c.sendError(MsgOpposedRequest, err.Error())
		return
	}

	skipPreferred := g.skipPromptsPreferred(c)
	prompter := &wsPrompter{client: c}
	leg := func(l OpposedLegPayload) encounter.TestRequest {
		return encounter.TestRequest{
			ActorID:    l.ActorID,
			Skill:      l.Skill,
			User:       c.user,
			Admin:      c.admin,
			Label:      l.Label,
			SkipPrompt: l.SkipPrompt || skipPreferred,
			Prompter:   prompter,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*promptTimeout)
	defer cancel()

	opposed, err := g.encounterMgr.RunOpposedTest(ctx, encounter.OpposedRequest{
		EncounterID: encounterID,
		Source:      leg(p.Source),
		Target:      leg(p.Target),
		TieBreak:    tieBreak,
		BreakTies:   p.BreakTies,
	})
	if err != nil {
		c.sendError(MsgOpposedRequest, err.Error())
		return
	}
	if opposed == nil {
		c.sendEnvelope(MsgTestDismissed, OpposedRequestPayload{
			EncounterID: encounterID,
			Source:      p.Source,
			Target:      p.Target,
		})
		return
	}
	if !opposed.Evaluated() {
		c.sendEnvelope(MsgTestBlocked, ErrorPayload{
			Request: MsgOpposedRequest,
			Message: "not permitted to test these actors",
		})
		return
	}

	g.rememberTest(encounterID, opposed.Source())
	g.rememberTest(encounterID, opposed.Target())
	g.persistOpposed(encounterID, opposed)
	g.deliver(c, encounterID, MsgOpposedResult, opposedResultPayload(encounterID, opposed))
}

func (g *Gateway) wsReviseFate(c *Client, data json.RawMessage) {
	var p RevisePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(MsgFateRevise, "malformed revise request")
		return
	}
	encounterID := c.resolveEncounterID(p.EncounterID)
	if encounterID == "" || p.ActorID == "" || p.Skill == "" {
		c.sendError(MsgFateRevise, "encounter_id, actor_id, and skill are required")
		return
	}

	prior := g.lastTest(encounterID, p.ActorID)
	if prior == nil {
		c.sendError(MsgFateRevise, "no prior test to revise")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), promptTimeout)
	defer cancel()

	test, err := g.encounterMgr.ReviseWithFate(ctx, encounter.ReviseRequest{
		EncounterID: encounterID,
		ActorID:     p.ActorID,
		Skill:       p.Skill,
		User:        c.user,
		Admin:       c.admin,
		Prior:       prior,
		Bonus:       p.Bonus,
	})
	if err != nil {
		c.sendError(MsgFateRevise, err.Error())
		return
	}
	if test == nil || !test.Evaluated() {
		c.sendError(MsgFateRevise, "revision not permitted")
		return
	}

	g.rememberTest(encounterID, test)
	g.persistTest(encounterID, test)
	g.deliver(c, encounterID, MsgTestResult, testResultPayload(encounterID, test, true))
}

func (g *Gateway) wsActorPass(c *Client, data json.RawMessage) {
	var p ActorPassPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(MsgActorPass, "malformed pass request")
		return
	}
	encounterID := c.resolveEncounterID(p.EncounterID)
	if encounterID == "" || p.ActorID == "" {
		c.sendError(MsgActorPass, "encounter_id and actor_id are required")
		return
	}

	enc, ok := g.encounterMgr.GetEncounter(encounterID)
	if !ok {
		c.sendError(MsgActorPass, "encounter not found")
		return
	}
	if !enc.OwnsActor(c.user, p.ActorID) && !c.admin {
		c.sendError(MsgActorPass, "not permitted to run a pass for this actor")
		return
	}

	if err := g.encounterMgr.RunActorPass(encounterID, p.ActorID); err != nil {
		c.sendError(MsgActorPass, err.Error())
		return
	}

	a, found := enc.Actor(p.ActorID)
	if !found {
		c.sendError(MsgActorPass, "actor not found")
		return
	}
	g.deliver(c, encounterID, MsgActorState, ActorStatePayload{
		EncounterID: encounterID,
		Actor:       a.Snapshot(),
	})
}

func (g *Gateway) wsAdvanceRound(c *Client, data json.RawMessage) {
	var p RoundAdvancePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(MsgRoundAdvance, "malformed round request")
		return
	}
	encounterID := c.resolveEncounterID(p.EncounterID)
	if encounterID == "" {
		c.sendError(MsgRoundAdvance, "encounter_id is required")
		return
	}

	enc, ok := g.encounterMgr.GetEncounter(encounterID)
	if !ok {
		c.sendError(MsgRoundAdvance, "encounter not found")
		return
	}
	if enc.GameMaster != c.user && !c.admin {
		c.sendError(MsgRoundAdvance, "only the game master may advance the round")
		return
	}

	report, err := g.encounterMgr.AdvanceRound(encounterID)
	if err != nil {
		c.sendError(MsgRoundAdvance, err.Error())
		return
	}

	g.deliver(c, encounterID, MsgRoundReport, report)
}

func (g *Gateway) wsJournalReplay(c *Client, data json.RawMessage) {
	var p JournalReplayPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(MsgJournalReplay, "malformed replay request")
		return
	}
	encounterID := c.resolveEncounterID(p.EncounterID)
	if encounterID == "" {
		c.sendError(MsgJournalReplay, "encounter_id is required")
		return
	}

	enc, ok := g.encounterMgr.GetEncounter(encounterID)
	if !ok {
		c.sendError(MsgJournalReplay, "encounter not found")
		return
	}

	result := JournalReplayedPayload{
		EncounterID: encounterID,
		Entries:     enc.Journal().Size(),
		OK:          true,
	}
	if err := enc.Journal().Replay(); err != nil {
		result.OK = false
		result.Error = err.Error()
	}

	c.sendEnvelope(MsgJournalReplayed, result)
}

// deliver broadcasts to the encounter and, when the requester has not
// joined it, answers the requester directly so the response is never lost.
func (g *Gateway) deliver(c *Client, encounterID, msgType string, v any) {
	g.hub.BroadcastToEncounter(encounterID, msgType, v)
	if c.encounter() != encounterID {
		c.sendEnvelope(msgType, v)
	}
}

func (g *Gateway) skipPromptsPreferred(c *Client) bool {
	sess, ok := g.sessionMgr.GetSession(c.sessionID)
	if !ok {
		return false
	}
	return sess.GetPreferences().SkipSituationalPrompts
}

func parseTieBreak(s string) (rules.TieBreak, error) {
	switch s {
	case "", "none":
		return rules.TieBreakNone, nil
	case "source":
		return rules.TieBreakFavorSource, nil
	case "target":
		return rules.TieBreakFavorTarget, nil
	default:
		return rules.TieBreakNone, errors.New("tie_break must be none, source, or target")
	}
}

// ==================== Result bookkeeping ====================

func lastTestKey(encounterID, actorID string) string {
	return encounterID + "/" + actorID
}

func (g *Gateway) rememberTest(encounterID string, t *rules.SuccessTest) {
	g.lastMu.Lock()
	g.lastTests[lastTestKey(encounterID, t.ActorID())] = t
	g.lastMu.Unlock()
}

func (g *Gateway) lastTest(encounterID, actorID string) *rules.SuccessTest {
	g.lastMu.RLock()
	defer g.lastMu.RUnlock()
	return g.lastTests[lastTestKey(encounterID, actorID)]
}

func (g *Gateway) persistTest(encounterID string, t *rules.SuccessTest) {
	if g.results == nil {
		return
	}
	round := 0
	if enc, ok := g.encounterMgr.GetEncounter(encounterID); ok {
		round = enc.Round()
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := g.results.RecordTest(ctx, encounterID, round, t); err != nil {
		g.logger.Error("failed to persist test result",
			zap.String("encounter_id", encounterID),
			zap.String("actor_id", t.ActorID()),
			zap.Error(err),
		)
	}
}

func (g *Gateway) persistOpposed(encounterID string, o *rules.OpposedTest) {
	if g.results == nil {
		return
	}
	round := 0
	if enc, ok := g.encounterMgr.GetEncounter(encounterID); ok {
		round = enc.Round()
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := g.results.RecordOpposed(ctx, encounterID, round, o); err != nil {
		g.logger.Error("failed to persist opposed result",
			zap.String("encounter_id", encounterID),
			zap.Error(err),
		)
	}
}
