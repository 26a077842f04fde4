// Package ws maintains live websocket connections to signed-in users so
// notifications can be pushed without polling.
package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned when sending to a user with no live socket.
	ErrNotConnected = errors.New("ws: user not connected")
	// ErrSendBufferFull is returned when a client's outbound buffer is full.
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

// Registry tracks one connection per user. A new connection for a user
// replaces the previous one.
type Registry struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Handler upgrades the request and registers the connection under the user ID
// carried in the user query parameter.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID := strings.TrimSpace(req.URL.Query().Get("user"))
		if userID == "" {
			http.Error(w, "user is required", http.StatusBadRequest)
			return
		}
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
			return
		}
		r.register(userID, conn)
	}
}

func (r *Registry) register(userID string, conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if previous, ok := r.clients[userID]; ok {
		previous.close()
	}
	r.clients[userID] = c
	r.mu.Unlock()

	r.logger.Info("websocket connected", "user_id", userID)
	go r.writePump(userID, c)
	go r.readPump(userID, c)
}

func (r *Registry) unregister(userID string, c *client) {
	r.mu.Lock()
	if current, ok := r.clients[userID]; ok && current == c {
		delete(r.clients, userID)
	}
	r.mu.Unlock()
	c.close()
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// IsConnected reports whether the user has a live socket.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[userID]
	return ok
}

// Send queues a payload for the user's socket without blocking.
func (r *Registry) Send(userID string, payload []byte) error {
	r.mu.RLock()
	c, ok := r.clients[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return ErrNotConnected
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (r *Registry) readPump(userID string, c *client) {
	defer r.unregister(userID, c)
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Warn("websocket read failed", "user_id", userID, "error", err)
			}
			return
		}
	}
}

func (r *Registry) writePump(userID string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				r.logger.Warn("websocket write failed", "user_id", userID, "error", err)
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

// CloseAll drops every connection. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, c := range r.clients {
		c.close()
		delete(r.clients, userID)
	}
}
