package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/draftsync/draftsync/pkg/protocol"
)

// wireConn is the subset of *websocket.Conn the server uses. Lifecycle tests
// substitute an in-memory transport.
type wireConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live client connection and its lifecycle state.
//
// The owner identity is set exactly once, during the handshake, and never
// changes afterwards. All writes to the transport go through mu.
type Conn struct {
	id string
	ws wireConn

	mu    sync.Mutex // protects ws writes, owner, and state
	owner string
	state State

	closed atomic.Bool
	done   chan struct{}

	// lastHeartbeat is the unix-millisecond timestamp of the last ping sent.
	lastHeartbeat atomic.Int64

	config *Config
	logger *slog.Logger

	// onClose is invoked once, after the transport is closed. The registry
	// uses it to release the connection's entry.
	onClose func(*Conn)
}

// newConn wraps a transport connection. The connection starts in
// StateConnecting and is not yet registered.
func newConn(ws wireConn, config *Config, logger *slog.Logger) *Conn {
	id := ulid.Make().String()
	return &Conn{
		id:     id,
		ws:     ws,
		state:  StateConnecting,
		done:   make(chan struct{}),
		config: config,
		logger: logger.With("conn_id", id),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Owner returns the bound owner identity, or "" before the handshake.
func (c *Conn) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// authenticate transitions Connecting -> Authenticated, binding the owner
// identity. Called via Registry.SetOwner, which validates the identity and
// maintains the owner index.
func (c *Conn) authenticate(owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrConnClosed
	case StateAuthenticated:
		return ErrAlreadyAuthenticated
	}

	c.owner = owner
	c.state = StateAuthenticated
	return nil
}

// Send marshals a protocol message and writes it to the transport.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrConnClosed
	}

	c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// HeartbeatLoop sends a transport-level ping every HeartbeatInterval. It runs
// until the connection closes; Close stops it deterministically via the done
// channel, so a closed connection never leaks its timer.
func (c *Conn) HeartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrConnClosed
	}

	deadline := time.Now().Add(c.config.WriteTimeout)
	if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		c.logger.Debug("ping error", "error", err)
		return err
	}

	c.lastHeartbeat.Store(time.Now().UnixMilli())
	return nil
}

// LastHeartbeat returns the time of the last ping sent, or the zero time if
// none has been sent yet.
func (c *Conn) LastHeartbeat() time.Time {
	ms := c.lastHeartbeat.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Close transitions the connection to StateClosed, stops the heartbeat, and
// closes the transport. It is idempotent and safe to call from any goroutine.
func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	close(c.done)

	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.ws.Close()

	if c.onClose != nil {
		c.onClose(c)
	}

	c.logger.Info("connection closed")
}

// IsClosed returns whether the connection is closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Done returns a channel that is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
