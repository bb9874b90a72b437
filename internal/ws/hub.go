// Package ws pushes job lifecycle notifications to connected clients over
// WebSocket.  A connection receives nothing until it authenticates with a
// valid access token; after that every notification addressed to its user
// is fanned out to all of that user's open connections.
package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Notification types delivered to clients.
const (
	EventSyncStarted         = "sync_started"
	EventSyncCompleted       = "sync_completed"
	EventSyncFailed          = "sync_failed"
	EventConnectionStarted   = "calendar_connection_started"
	EventConnectionCompleted = "calendar_connected"
	EventConnectionFailed    = "calendar_connection_failed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser origin carries no trust here; a connection is useless
	// until it authenticates with a signed token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Envelope wraps every outbound message.
type Envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// inbound is what clients may send: an authenticate handshake or a ping.
type inbound struct {
	Type   string `json:"type"`
	UserID uint64 `json:"userId"`
	Token  string `json:"token"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uint64 // zero until authenticated
}

// Hub tracks which connections belong to which user.  Delivery is
// at-most-once: a notification for a user with no bound connections is
// dropped, never queued.
type Hub struct {
	secret string

	mu       sync.RWMutex
	bindings map[uint64]map[*client]struct{}
}

// NewHub creates a hub that validates authenticate handshakes against the
// given JWT signing secret.
func NewHub(secret string) *Hub {
	return &Hub{
		secret:   secret,
		bindings: make(map[uint64]map[*client]struct{}),
	}
}

func (h *Hub) bind(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.bindings[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.bindings[c.userID] = set
	}
	set[c] = struct{}{}
}

// unbind removes the connection's binding.  The user's other connections
// are untouched.
func (h *Hub) unbind(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.bindings[c.userID]
	if !ok {
		return
	}
	if _, bound := set[c]; !bound {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.bindings, c.userID)
	}
	close(c.send)
}

// NotifyUser fans one notification out to every authenticated connection
// the user currently holds.  Connections too slow to drain their buffer
// are dropped rather than allowed to stall the caller.
func (h *Hub) NotifyUser(userID uint64, event string, data map[string]any) {
	payload, err := json.Marshal(Envelope{
		Type:      event,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[WS] marshal %s notification: %v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.bindings[userID]
	for c := range set {
		select {
		case c.send <- payload:
		default:
			// Too slow to drain its buffer; closing the socket lets the
			// read pump tear the binding down on its own goroutine.
			delete(set, c)
			c.conn.Close()
		}
	}
	if len(set) == 0 {
		delete(h.bindings, userID)
	}
}

// verifyToken parses an HS256 access token and returns its subject.
func (h *Hub) verifyToken(raw string) (uint64, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(h.secret), nil
	})
	if err != nil || !tok.Valid {
		return 0, errors.New("invalid token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid claims")
	}
	sub, ok := claims["sub"].(float64)
	if !ok || sub <= 0 {
		return 0, errors.New("missing subject")
	}
	return uint64(sub), nil
}

// authenticate validates the handshake message and binds the connection on
// success.  The claimed userId must match the token's subject.
func (c *client) authenticate(raw []byte) error {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errors.New("malformed message")
	}
	if msg.Type != "authenticate" {
		return errors.New("authenticate first")
	}
	sub, err := c.hub.verifyToken(msg.Token)
	if err != nil {
		return err
	}
	if msg.UserID != sub {
		return errors.New("token subject mismatch")
	}
	c.userID = sub
	c.hub.bind(c)
	return nil
}

// Handle upgrades the request and runs the connection until it closes.
// Registered on GET /api/ws without auth middleware; the authenticate
// handshake is the auth step.
func (h *Hub) Handle(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := &client{hub: h, conn: conn, send: make(chan []byte, 64)}
	go cl.writePump()
	go cl.readPump()
	return nil
}

// readPump consumes inbound frames.  The first frame must be the
// authenticate handshake; everything after it is ignored except pings.
func (c *client) readPump() {
	defer func() {
		c.hub.unbind(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	authenticated := false
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] read: %v", err)
			}
			return
		}

		if !authenticated {
			if err := c.authenticate(raw); err != nil {
				c.sendEnvelope(Envelope{Type: "error", Data: map[string]any{"error": err.Error()}})
				return
			}
			authenticated = true
			c.sendEnvelope(Envelope{Type: "authenticated"})
			continue
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			c.sendEnvelope(Envelope{Type: "pong"})
		}
	}
}

// sendEnvelope queues a direct reply (handshake results, pongs).  All
// writes go through the write pump so the connection has one writer.
func (c *client) sendEnvelope(e Envelope) {
	e.Timestamp = time.Now().Unix()
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings.  A closed send channel (unbind) closes the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
