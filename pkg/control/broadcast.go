package control

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/offlinefirst/keyhole/pkg/routing"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 16),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Broadcaster fans status snapshots out to websocket clients.
type Broadcaster struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	last    []byte
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:  logger.With("component", "broadcaster"),
		clients: make(map[*client]bool),
	}
}

// AddClient registers conn and sends it the latest status.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = true
	if b.last != nil {
		c.send <- b.last
	}
	return c
}

// RemoveClient unregisters c and closes its connection.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	b.removeLocked(c)
	b.mu.Unlock()
}

func (b *Broadcaster) removeLocked(c *client) {
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

// Publish sends status to every client. It never blocks; slow clients are dropped.
// Sends happen under the lock so no send can race the close in RemoveClient.
func (b *Broadcaster) Publish(status routing.Status) {
	data, err := json.Marshal(Message{Type: MsgStatus, Payload: status})
	if err != nil {
		b.logger.Error("marshal status", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = data
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			b.logger.Warn("status client too slow, disconnecting")
			b.removeLocked(c)
		}
	}
}

// ClientCount reports connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for c := range b.clients {
		b.removeLocked(c)
	}
	b.mu.Unlock()
}
