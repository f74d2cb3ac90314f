package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendBufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection bound to an authenticated session.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	sessionID string
	user      string
	admin     bool

	mu          sync.Mutex
	encounterID string
	pending     map[string]chan TestReplyPayload
}

func (c *Client) setEncounter(id string) {
	c.mu.Lock()
	c.encounterID = id
	c.mu.Unlock()
}

func (c *Client) encounter() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encounterID
}

// addPending registers a prompt waiting for a reply and returns its channel.
func (c *Client) addPending(promptID string) chan TestReplyPayload {
	ch := make(chan TestReplyPayload, 1)
	c.mu.Lock()
	c.pending[promptID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) removePending(promptID string) {
	c.mu.Lock()
	delete(c.pending, promptID)
	c.mu.Unlock()
}

// resolvePending hands a reply to the goroutine blocked on the prompt.
// Unknown prompt IDs are dropped; the test may have timed out already.
func (c *Client) resolvePending(reply TestReplyPayload) bool {
	c.mu.Lock()
	ch, ok := c.pending[reply.PromptID]
	if ok {
		delete(c.pending, reply.PromptID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- reply
	return true
}

// sendEnvelope marshals and queues one message. Slow clients drop messages
// rather than stalling the sender.
func (c *Client) sendEnvelope(msgType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *Client) sendError(request, message string) {
	c.sendEnvelope(MsgError, ErrorPayload{Request: request, Message: message})
}

func (c *Client) readPump(g *Gateway) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		g.handleClientMessage(c, message)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}

// Hub tracks connected clients and routes per-encounter broadcasts.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan encounterMessage

	logger *zap.Logger
}

type encounterMessage struct {
	encounterID string
	frame       []byte
}

func newHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan encounterMessage),
		logger:     logger,
	}
}

// Run owns the client set until ctx is done. It must run before any client
// connects.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("ws client registered",
				zap.String("user", client.user),
				zap.String("session_id", client.sessionID),
			)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("ws client unregistered",
					zap.String("user", client.user),
				)
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.encounter() != msg.encounterID {
					continue
				}
				select {
				case client.send <- msg.frame:
				default:
				}
			}

		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// BroadcastToEncounter queues one message for every client joined to the
// encounter.
func (h *Hub) BroadcastToEncounter(encounterID, msgType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		return
	}
	h.broadcast <- encounterMessage{encounterID: encounterID, frame: frame}
}

// handleWS upgrades an authenticated request to a WebSocket connection.
// Browsers cannot set headers on WS dials, so the session may also ride in
// the "session" query parameter.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session")
	}
	if sessionID == "" {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}

	sess, ok := g.sessionMgr.GetSession(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusUnauthorized)
		return
	}
	userID := sess.GetUserID()
	if userID == "" {
		http.Error(w, "session not associated with a user", http.StatusUnauthorized)
		return
	}
	sess.UpdateActivity()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:       g.hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		sessionID: sessionID,
		user:      userID,
		admin:     sess.IsAdminSession(),
		pending:   make(map[string]chan TestReplyPayload),
	}

	g.hub.register <- client

	go client.writePump()
	go client.readPump(g)
}
