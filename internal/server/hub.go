// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// hub.go - Fan-out of live events to SSE subscribers.

package server

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// HUB
// =============================================================================

// Subscriber is a push client attached to the hub.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans generated events out to push subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]Subscriber
	log     *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[uuid.UUID]Subscriber), log: log}
}

// Register attaches a subscriber and returns its id.
func (h *Hub) Register(sub Subscriber) uuid.UUID {
	id := uuid.New()
	h.mu.Lock()
	h.clients[id] = sub
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("subscriber registered", zap.String("id", id.String()), zap.Int("subscribers", n))
	return id
}

// Unregister detaches a subscriber. Unknown ids are ignored.
func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		sub.Close()
		h.log.Debug("subscriber unregistered", zap.String("id", id.String()))
	}
}

// Broadcast sends payload to every subscriber. Subscribers whose send fails
// are closed and dropped.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	var failed []uuid.UUID
	for id, sub := range h.clients {
		if err := sub.Send(payload); err != nil {
			failed = append(failed, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range failed {
		h.Unregister(id)
	}
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll detaches and closes every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[uuid.UUID]Subscriber)
	h.mu.Unlock()
	for _, sub := range clients {
		sub.Close()
	}
}

// =============================================================================
// SSE SUBSCRIBER
// =============================================================================

// sseClient writes events as `data:` frames on a flushed response.
type sseClient struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	done    chan struct{}
}

func newSSEClient(w io.Writer, flusher http.Flusher) *sseClient {
	return &sseClient{w: w, flusher: flusher, done: make(chan struct{})}
}

func (c *sseClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
		c.closeLocked()
		return err
	}
	c.flusher.Flush()
	return nil
}

// Heartbeat writes a comment frame.
func (c *sseClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.w, ": ping\n\n"); err != nil {
		c.closeLocked()
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *sseClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *sseClient) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Done is closed once the client stops accepting frames.
func (c *sseClient) Done() <-chan struct{} { return c.done }

// =============================================================================
// WEBSOCKET SUBSCRIBER
// =============================================================================

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 512
	wsSendQueue      = 256
)

// wsClient owns one websocket connection. Frames are queued on send and
// written by writePump, one event per text frame.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *zap.Logger
}

func newWSClient(conn *websocket.Conn, log *zap.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendQueue),
		done: make(chan struct{}),
		log:  log,
	}
}

// Send queues a frame. A full queue means the peer is too slow and is
// reported as an error so the hub drops it.
func (c *wsClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return io.EOF
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("websocket send queue full")
	}
}

func (c *wsClient) Close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed when the client has been closed.
func (c *wsClient) Done() <-chan struct{} { return c.done }

// readPump drains control frames until the peer goes away.
func (c *wsClient) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump writes queued frames and pings until the client closes.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("websocket write error", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
