package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/logger"
)

// Client owns at most one active Session. Every Connect builds a new one.
type Client struct {
	cfg Config

	// mu serializes replacing the current session.
	mu      sync.Mutex
	current atomic.Pointer[Session]
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Connect ends the current session, if any, and opens a new one. An empty
// credential fails with a config error before any connection attempt.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, liveerr.Config("missing API key")
	}

	c.mu.Lock()
	if prev := c.current.Load(); prev != nil {
		if err := prev.Disconnect(); err != nil {
			logger.Warn("previous session did not shut down cleanly", "session_id", prev.ID(), "error", err)
		}
	}
	s := newSession(c.cfg)
	c.current.Store(s)
	c.mu.Unlock()

	// The session is published before dialing so Disconnect can abort it.
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Disconnect ends the current session, including one still connecting.
// It is safe to call at any time.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	s := c.current.Load()
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Disconnect()
}

// Session returns the most recent session, or nil before the first Connect.
func (c *Client) Session() *Session {
	return c.current.Load()
}

// State returns the state of the most recent session.
func (c *Client) State() State {
	if s := c.current.Load(); s != nil {
		return s.State()
	}
	return StateDisconnected
}

// SendAudioChunk forwards to the current session.
func (c *Client) SendAudioChunk(pcm []byte) {
	if s := c.current.Load(); s != nil {
		s.SendAudioChunk(pcm)
	}
}

// SendVideoChunk forwards to the current session.
func (c *Client) SendVideoChunk(jpeg []byte) {
	if s := c.current.Load(); s != nil {
		s.SendVideoChunk(jpeg)
	}
}
