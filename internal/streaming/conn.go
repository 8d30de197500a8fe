// Package streaming provides the WebSocket transport used by live sessions.
//
// The package separates transport-level concerns (dial, queued non-blocking
// send, receive, heartbeat, close) from the live protocol, which is encoded
// and decoded by the caller.
package streaming

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Default connection constants.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024 // 16MB
	DefaultMediaQueueSize   = 32
	DefaultControlQueueSize = 64
	DefaultCloseGracePeriod = 2 * time.Second
)

// Priority selects the send queue for an outbound message.
type Priority int

const (
	// PriorityMedia is for realtime audio/video chunks. The queue is small and
	// a full queue drops the newest message.
	PriorityMedia Priority = iota
	// PriorityControl is for setup and tool responses. It is drained first.
	PriorityControl
)

// Transport errors.
var (
	ErrNotConnected = errors.New("websocket is not connected")
	ErrClosed       = errors.New("websocket is closed")
	ErrQueueFull    = errors.New("send queue is full")
)

// ConnConfig configures the WebSocket connection behavior.
type ConnConfig struct {
	// URL is the WebSocket endpoint URL.
	URL string

	// Headers are sent during the WebSocket handshake.
	Headers http.Header

	// DialTimeout is the handshake timeout. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// WriteWait is the write deadline for each message. Defaults to DefaultWriteWait.
	WriteWait time.Duration

	// MaxMessageSize is the read limit. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// MediaQueueSize bounds queued media messages. Defaults to DefaultMediaQueueSize.
	MediaQueueSize int

	// ControlQueueSize bounds queued control messages. Defaults to DefaultControlQueueSize.
	ControlQueueSize int

	// CloseGracePeriod is the deadline for writing the close frame.
	// Defaults to DefaultCloseGracePeriod.
	CloseGracePeriod time.Duration

	// Logger receives debug/warn/error log messages. Optional.
	Logger Logger
}

// Logger is an optional interface for structured logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

func (c *ConnConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MediaQueueSize <= 0 {
		c.MediaQueueSize = DefaultMediaQueueSize
	}
	if c.ControlQueueSize <= 0 {
		c.ControlQueueSize = DefaultControlQueueSize
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

// Conn is a single-use WebSocket connection. Sends are queued and written by
// a dedicated goroutine so callers never wait on the network. A Conn is not
// reconnected; create a new one instead.
type Conn struct {
	cfg ConnConfig

	conn     *websocket.Conn
	mu       sync.Mutex
	writeMu  sync.Mutex // serializes writes (gorilla/websocket requirement)
	closed   bool
	writeErr error

	media      chan []byte
	control    chan []byte
	closeCh    chan struct{}
	writerDone chan struct{}
}

// NewConn creates a new Conn. Call Connect to establish the connection.
func NewConn(cfg *ConnConfig) *Conn {
	cfg.defaults()
	return &Conn{
		cfg:        *cfg,
		media:      make(chan []byte, cfg.MediaQueueSize),
		control:    make(chan []byte, cfg.ControlQueueSize),
		closeCh:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Dial creates a Conn and connects it.
func Dial(ctx context.Context, cfg *ConnConfig) (*Conn, error) {
	c := NewConn(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect establishes the WebSocket connection and starts the writer.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	// The dialer only honors ctx while connecting the socket; closing the
	// socket on cancel also aborts a pending handshake.
	var unwatch func() bool
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
		NetDialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
			nc, err := (&net.Dialer{}).DialContext(dialCtx, network, addr)
			if err != nil {
				return nil, err
			}
			unwatch = context.AfterFunc(ctx, func() { _ = nc.Close() })
			return nc, nil
		},
	}

	c.cfg.Logger.Debug("connecting to WebSocket", "url", c.cfg.URL)

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if unwatch != nil && !unwatch() && err == nil {
		// Canceled right after the handshake; the socket is already closed.
		_ = conn.Close()
		return fmt.Errorf("connect canceled: %w", ctx.Err())
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("connect canceled: %w", errors.Join(ctxErr, err))
		}
		if resp != nil {
			c.cfg.Logger.Error("WebSocket dial failed", "error", err, "status", resp.StatusCode)
			return fmt.Errorf("failed to connect (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn = conn
	go c.writeLoop(conn)

	c.cfg.Logger.Info("WebSocket connected")
	return nil
}

// Send queues data for writing and returns immediately. Media messages are
// dropped with ErrQueueFull when their queue is full.
func (c *Conn) Send(data []byte, priority Priority) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrClosed
	case c.conn == nil:
		return ErrNotConnected
	case c.writeErr != nil:
		return c.writeErr
	}

	queue := c.media
	if priority == PriorityControl {
		queue = c.control
	}
	select {
	case queue <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// writeLoop drains the send queues, control first.
func (c *Conn) writeLoop(conn *websocket.Conn) {
	defer close(c.writerDone)

	for {
		var data []byte
		select {
		case data = <-c.control:
		default:
			select {
			case data = <-c.control:
			case data = <-c.media:
			case <-c.closeCh:
				return
			}
		}

		if err := c.write(conn, websocket.TextMessage, data); err != nil {
			c.cfg.Logger.Warn("WebSocket write failed", "error", err)
			c.mu.Lock()
			c.writeErr = fmt.Errorf("failed to write message: %w", err)
			c.mu.Unlock()
			return
		}
	}
}

func (c *Conn) write(conn *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

// Receive reads a single message from the WebSocket. The call blocks until a message
// arrives or the context is canceled. Only one goroutine may call Receive.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	type readResult struct {
		msgType int
		data    []byte
		err     error
	}
	ch := make(chan readResult, 1)

	go func() {
		msgType, data, err := conn.ReadMessage()
		ch <- readResult{msgType: msgType, data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.msgType != websocket.TextMessage && r.msgType != websocket.BinaryMessage {
			return nil, fmt.Errorf("unexpected message type: %d", r.msgType)
		}
		return r.data, nil
	}
}

// IsPeerClose reports whether err is a close frame from the remote side.
func IsPeerClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

// IsNormalClose reports whether err is a normal or going-away close frame.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// StartHeartbeat starts a goroutine that sends WebSocket ping frames at the given interval.
func (c *Conn) StartHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go c.heartbeatLoop(ctx, interval)
}

func (c *Conn) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Conn) sendPing() bool {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, websocket.PingMessage, nil); err != nil {
		c.cfg.Logger.Warn("ping failed", "error", err)
		return false
	}
	return true
}

// Close sends a close frame, closes the socket and waits for the writer to exit.
// Queued messages that were not yet written are discarded. Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
	_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
	c.writeMu.Unlock()

	err := conn.Close()
	<-c.writerDone
	return err
}

// IsConnected returns true if the connection has been established and has not been closed.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}
