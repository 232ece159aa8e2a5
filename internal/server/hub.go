package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 32
)

// Hub owns the connected websocket clients and fans snapshots out to them.
// Every message is a full snapshot, so under load older ones are discarded
// and the latest always reaches each client.
type Hub struct {
	clients map[*client]bool

	mu      sync.Mutex
	latest  []byte
	pending chan struct{}

	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *zap.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		pending:    make(chan struct{}, 1),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("ws client connected", zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}

		case <-h.pending:
			h.mu.Lock()
			msg := h.latest
			h.latest = nil
			h.mu.Unlock()
			if msg == nil {
				continue
			}
			for c := range h.clients {
				deliver(c, msg)
			}
		}
	}
}

// Broadcast hands msg to the hub without blocking. A message not yet fanned
// out is replaced by the newer one.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	h.latest = msg
	h.mu.Unlock()

	select {
	case h.pending <- struct{}{}:
	default:
	}
}

// deliver queues msg for c, evicting the oldest queued message when the
// client is behind. The hub is the only sender on c.send.
func deliver(c *client, msg []byte) {
	select {
	case c.send <- msg:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	c.send <- msg
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only keeps the connection alive; clients control playback over HTTP.
func (c *client) readPump() {
	defer c.hub.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
