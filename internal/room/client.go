// Package room implements the client/room/group model and the message
// distributor that fans envelopes out across them.
package room

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/instant-hq/instant/internal/logging"
	"github.com/instant-hq/instant/internal/metrics"
	"github.com/instant-hq/instant/internal/uid"
)

// DefaultNick is the nick assigned to clients that have not chosen one.
const DefaultNick = "Anonymous"

// MaxNickLength bounds nick changes.
const MaxNickLength = 256

// wsConn is the subset of *websocket.Conn the client uses; tests substitute
// their own implementation.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Connection lifecycle states.
const (
	stateHandshake int32 = iota
	stateOpen
	stateClosing
	stateClosed
)

const writeWait = 10 * time.Second

// ClientOptions carries the per-connection request metadata.
type ClientOptions struct {
	RemoteAddr string
	UserAgent  string
	Referer    string
	SessionID  string

	// QueueDepth is the bounded send queue size; 0 means the default of 64.
	QueueDepth int
	// FrameRate is the inbound frames-per-second budget; 0 disables it.
	FrameRate float64
}

// Client is the per-socket state. The connection's read goroutine owns it;
// rooms hold it only as a queue handle and drop that handle on disconnect.
type Client struct {
	id        uid.ID
	createdAt time.Time

	remoteAddr string
	userAgent  string
	referer    string
	sessionID  string

	conn    wsConn
	send    chan []byte
	limiter *rate.Limiter

	mu   sync.RWMutex
	nick string
	room *Room

	state       atomic.Int32
	closeOnce   sync.Once
	closed      atomic.Bool
	closeCode   int
	closeReason string
}

// NewClient wraps an upgraded connection. The client starts in the handshake
// state and enters OPEN when the distributor registers it.
func NewClient(id uid.ID, conn wsConn, opts ClientOptions) *Client {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = 64
	}
	var limiter *rate.Limiter
	if opts.FrameRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.FrameRate), int(opts.FrameRate))
	}
	return &Client{
		id:         id,
		createdAt:  time.Now(),
		remoteAddr: opts.RemoteAddr,
		userAgent:  opts.UserAgent,
		referer:    opts.Referer,
		sessionID:  opts.SessionID,
		conn:       conn,
		send:       make(chan []byte, depth),
		limiter:    limiter,
		nick:       DefaultNick,
	}
}

// ID returns the server-assigned connection identifier.
func (c *Client) ID() uid.ID { return c.id }

// SessionID returns the identity-cookie session this connection presented.
func (c *Client) SessionID() string { return c.sessionID }

// RemoteAddr returns the peer address recorded at upgrade time.
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// CreatedAt returns when the connection was accepted.
func (c *Client) CreatedAt() time.Time { return c.createdAt }

// Nick returns the current nick.
func (c *Client) Nick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nick
}

// SetNick updates the nick.
func (c *Client) SetNick(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nick = nick
}

// Room returns the room this client currently belongs to (the null room for
// unrouted clients, nil before registration).
func (c *Client) Room() *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) setRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
}

func (c *Client) markOpen() {
	c.state.CompareAndSwap(stateHandshake, stateOpen)
}

// SendRaw enqueues a pre-serialized frame. It reports false when the bounded
// queue is full; the caller is then responsible for dropping the client.
// Sends to an already-closed client are silently discarded.
func (c *Client) SendRaw(data []byte) bool {
	if c.closed.Load() {
		return true
	}

	// The queue may be closed concurrently by Disconnect.
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("send to closing client", zap.String("conn_id", c.id.String()))
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Disconnect initiates shutdown with the given close code. Closing the send
// channel makes the write pump drain the queue, emit the close frame, and
// close the socket.
func (c *Client) Disconnect(code int, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosing)
		c.closed.Store(true)
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.send)
	})
}

// ReadPump reads frames until the peer goes away and feeds them to the
// distributor. It runs on its own goroutine and triggers the leave path on
// exit.
func (c *Client) ReadPump(d *Distributor) {
	defer func() {
		d.HandleDisconnect(c)
		_ = c.conn.Close()
		c.state.Store(stateClosed)
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			logging.Warn(context.Background(), "Inbound frame budget exceeded, dropping frame",
				zap.String("conn_id", c.id.String()))
			continue
		}
		d.Dispatch(c, data)
	}
}

// WritePump drains the send queue onto the socket, one writer per connection
// so per-client delivery order is the queue order.
func (c *Client) WritePump() {
	defer func() { _ = c.conn.Close() }()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logging.GetLogger().Debug("write failed", zap.String("conn_id", c.id.String()), zap.Error(err))
			return
		}
	}

	// Queue closed: say goodbye with the recorded close code.
	c.mu.RLock()
	code, reason := c.closeCode, c.closeReason
	c.mu.RUnlock()
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.state.Store(stateClosed)
}
