// Package hub fans bridge events out to connected UI clients over
// WebSocket and feeds client requests back into the bridge.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Event is the broadcast envelope every client receives.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Request is the client request envelope. Fields beyond Action are only
// meaningful for the actions that use them.
type Request struct {
	Action  string `json:"action"`
	SceneID int    `json:"sceneId"`
	Name    string `json:"name"`
	Channel int    `json:"channel"`
	Source  int    `json:"source"`
	Target  int    `json:"target"`
	A       int    `json:"a"`
	B       int    `json:"b"`
}

// Handler consumes client requests.
type Handler interface {
	HandleRequest(req Request)
}

// Hub tracks connected clients. Broadcasts never block: a client that
// cannot keep up with the metering stream loses frames, not its
// connection.
type Hub struct {
	handler  Handler
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func New(handler Handler) *Hub {
	return &Hub{
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge runs on a trusted LAN; the UI may be served
			// from a different origin than the bridge itself.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     logrus.WithField("component", "hub"),
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades an HTTP request into a hub connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"client": c.id, "clients": n}).Info("client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// Broadcast sends one event to every connected client.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(Event{Type: event, Data: payload})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("event marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer: drop this frame for this client.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
	c.conn.Close()
	h.log.WithField("client", c.id).Info("client disconnected")
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.log.WithError(err).WithField("client", c.id).Warn("bad client request")
			continue
		}
		h.handler.HandleRequest(req)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
