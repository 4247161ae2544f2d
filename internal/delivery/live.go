package delivery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

// Frame is the envelope for everything written down a live connection.
type Frame struct {
	Type     string            `json:"type"`
	Messages []*domain.Message `json:"messages,omitempty"`
	Link     domain.Link       `json:"link,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Session  *domain.Session   `json:"session,omitempty"`
}

const (
	FrameMessages = "messages"
	FrameAck      = "ack"
	FrameReject   = "reject"
	FrameSession  = "session"
)

// liveConn serializes writes to one websocket. Gorilla connections allow a
// single concurrent writer.
type liveConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *liveConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// LiveTransport delivers over registered websocket connections, keyed by
// client ID.
type LiveTransport struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[string]*liveConn
}

func NewLiveTransport(log *slog.Logger) *LiveTransport {
	return &LiveTransport{
		log:   log,
		conns: make(map[string]*liveConn),
	}
}

func (t *LiveTransport) Name() string { return "live" }

// Register makes a connection addressable. A reconnect under the same
// client ID replaces the previous connection.
func (t *LiveTransport) Register(clientID string, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.conns[clientID]; ok {
		_ = prev.conn.Close()
	}
	t.conns[clientID] = &liveConn{conn: conn}
}

// Unregister drops the connection for clientID if conn is still the
// registered one. A stale close after a reconnect is a no-op.
func (t *LiveTransport) Unregister(clientID string, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.conns[clientID]; ok && cur.conn == conn {
		delete(t.conns, clientID)
	}
}

func (t *LiveTransport) lookup(clientID string) (*liveConn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c, nil
}

// Send writes an arbitrary frame to one client. All websocket writes funnel
// through here or through the transport methods so they share the
// per-connection write lock.
func (t *LiveTransport) Send(clientID string, frame Frame) error {
	c, err := t.lookup(clientID)
	if err != nil {
		return err
	}
	return c.writeJSON(frame)
}

func (t *LiveTransport) Deliver(ctx context.Context, recipient domain.Permalink, clientID string, msgs []*domain.Message) error {
	c, err := t.lookup(clientID)
	if err != nil {
		return err
	}
	if err := c.writeJSON(Frame{Type: FrameMessages, Messages: msgs}); err != nil {
		t.log.WarnContext(ctx, "live write failed", "client_id", clientID, "error", err)
		return err
	}
	return nil
}

func (t *LiveTransport) Ack(ctx context.Context, clientID string, link domain.Link) error {
	c, err := t.lookup(clientID)
	if err != nil {
		return err
	}
	return c.writeJSON(Frame{Type: FrameAck, Link: link})
}

func (t *LiveTransport) Reject(ctx context.Context, clientID string, link domain.Link, reason string) error {
	c, err := t.lookup(clientID)
	if err != nil {
		return err
	}
	return c.writeJSON(Frame{Type: FrameReject, Link: link, Reason: reason})
}
