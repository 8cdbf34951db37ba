package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"smlgpt/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Hub tracks websocket connections and the session rooms they joined.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger

	mu     sync.RWMutex
	rooms  map[string]map[*conn]struct{}
	conns  map[*conn]struct{}
	closed bool
}

// NewHub builds a hub. checkOrigin may be nil to accept any origin.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log:   zap.S().Named("realtime"),
		rooms: make(map[string]map[*conn]struct{}),
		conns: make(map[*conn]struct{}),
	}
}

// Publish implements Publisher for sockets held by this process.
func (h *Hub) Publish(_ context.Context, sessionID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode event payload")
	}
	return h.Deliver(sessionID, event, data)
}

// Deliver sends an already encoded payload to the session room.
func (h *Hub) Deliver(sessionID, event string, data json.RawMessage) error {
	frame, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	// sends happen under the read lock so remove cannot close a queue mid-send
	var slow []*conn
	h.mu.RLock()
	for c := range h.rooms[sessionID] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warnw("dropping slow client", "session_id", sessionID, "remote", c.remote)
		h.remove(c)
	}
	return nil
}

// RoomSize reports how many connections joined a session.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugw("websocket upgrade failed", "error", err)
		return
	}
	c := &conn{
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
		remote: r.RemoteAddr,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debugw("client connected", "remote", c.remote)
	go c.writePump()
	c.readPump()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.remove(c)
	}
}

func (h *Hub) join(c *conn, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*conn]struct{})
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
	c.rooms[sessionID] = struct{}{}
}

func (h *Hub) leave(c *conn, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, sessionID)
}

func (h *Hub) leaveLocked(c *conn, sessionID string) {
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	delete(c.rooms, sessionID)
}

// remove unregisters c and closes its send queue once.
func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	for sessionID := range c.rooms {
		h.leaveLocked(c, sessionID)
	}
	close(c.send)
	h.mu.Unlock()
}

type conn struct {
	hub    *Hub
	ws     *websocket.Conn
	send   chan []byte
	rooms  map[string]struct{} // guarded by hub.mu
	remote string
}

type controlMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

func (c *conn) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg controlMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debugw("websocket read failed", "remote", c.remote, "error", err)
			}
			return
		}
		if msg.Data == "" {
			continue
		}
		switch msg.Event {
		case models.EventJoinSession:
			c.hub.join(c, msg.Data)
			c.hub.log.Debugw("client joined session", "session_id", msg.Data, "remote", c.remote)
		case models.EventLeaveSession:
			c.hub.leave(c, msg.Data)
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
