package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pressfolio/activity-channel/internal/identity"
)

// MinTokenLength is the shortest bearer token the manager will even attempt
// to present. Anything shorter cannot be a signed token, so the dial is
// refused before touching the network.
const MinTokenLength = 50

// State is the manager's connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Errors returned by Connect.
var (
	ErrTokenTooShort = errors.New("token below minimum length")
	ErrFailedState   = errors.New("connection in failed state, disconnect first")
	ErrMaxAttempts   = errors.New("exhausted reconnect attempts")
)

// Config holds connection manager settings.
type Config struct {
	URL    string               // ws:// or wss:// endpoint
	Tokens identity.TokenSource // Required when connecting with auth

	DialTimeout          time.Duration // Per-attempt dial budget
	MaxReconnectAttempts int           // Attempts before the Failed state
	BaseDelay            time.Duration // First backoff step
	MaxDelay             time.Duration // Backoff ceiling
	WriteTimeout         time.Duration
	EventBufferSize      int
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = 32
	}
}

// Options control a single Connect call.
type Options struct {
	// RequireAuth presents a bearer token on the dial. The token is fetched
	// from the configured source and length-checked before any network I/O.
	RequireAuth bool
}

// ConnectionManager owns the websocket lifecycle: dialing, liveness,
// deterministic reconnect backoff, and the terminal Failed state.
type ConnectionManager struct {
	config Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	conn          *Conn
	monitorCancel context.CancelFunc
}

// NewManager creates a connection manager. The manager is in StateIdle
// until Connect is called.
func NewManager(config Config, logger *slog.Logger) *ConnectionManager {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{config: config, logger: logger}
}

// backoffDelay is the wait before reconnect attempt n (zero-based):
// BaseDelay doubled per attempt, capped at MaxDelay. No jitter; the
// schedule is deterministic so operators can predict reconnect storms.
func (m *ConnectionManager) backoffDelay(attempt int) time.Duration {
	delay := m.config.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxDelay {
			return m.config.MaxDelay
		}
	}
	if delay > m.config.MaxDelay {
		return m.config.MaxDelay
	}
	return delay
}

// Connect establishes the connection if one is not already live.
//
// Reuses a live connection; tears down a dead one before redialing. After
// the attempt budget is spent the manager enters StateFailed and refuses
// further Connects until Disconnect resets it.
func (m *ConnectionManager) Connect(ctx context.Context, opts Options) error {
	m.mu.Lock()
	switch m.state {
	case StateFailed:
		m.mu.Unlock()
		return ErrFailedState
	case StateConnected:
		if m.conn != nil && m.conn.alive() {
			m.mu.Unlock()
			return nil
		}
		// Socket died underneath us; replace it.
		m.teardownLocked()
	case StateConnecting:
		m.mu.Unlock()
		return errors.New("connect already in progress")
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.logger.Info("connection state", "state", StateConnecting)

	header := http.Header{}
	if opts.RequireAuth {
		token, err := m.fetchToken(ctx)
		if err != nil {
			m.setState(StateIdle)
			return err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, err := m.dialWithBackoff(ctx, header)
	if err != nil {
		if errors.Is(err, ErrMaxAttempts) {
			m.setState(StateFailed)
		} else {
			m.setState(StateIdle)
		}
		return err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.conn = conn
	m.monitorCancel = cancel
	m.state = StateConnected
	m.mu.Unlock()
	m.logger.Info("connection state", "state", StateConnected)

	go m.monitor(monitorCtx, conn, header)
	return nil
}

func (m *ConnectionManager) fetchToken(ctx context.Context) (string, error) {
	if m.config.Tokens == nil {
		return "", errors.New("no token source configured")
	}
	token, err := m.config.Tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if len(token) < MinTokenLength {
		return "", fmt.Errorf("%w: %d < %d", ErrTokenTooShort, len(token), MinTokenLength)
	}
	return token, nil
}

// dialWithBackoff makes an initial dial plus up to MaxReconnectAttempts
// retries. Retry n waits backoffDelay(n-1) first, so the sleeps run
// 1s, 2s, 4s, ... up to the ceiling. The attempt counter starts fresh on
// every call; a successful connect resets the schedule.
func (m *ConnectionManager) dialWithBackoff(ctx context.Context, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.config.DialTimeout}

	for attempt := 0; ; attempt++ {
		ws, _, err := dialer.DialContext(ctx, m.config.URL, header)
		if err == nil {
			return newConn(ws, m.config.EventBufferSize, m.config.WriteTimeout, m.logger), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("dial failed", "attempt", attempt, "url", m.config.URL, "error", err)

		if attempt >= m.config.MaxReconnectAttempts {
			return nil, fmt.Errorf("%w (%d): %w", ErrMaxAttempts, m.config.MaxReconnectAttempts, err)
		}

		delay := m.backoffDelay(attempt)
		m.logger.Info("reconnect backoff", "attempt", attempt+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// monitor watches the live connection and redials when it drops. A failed
// redial sequence pushes the manager into StateFailed.
func (m *ConnectionManager) monitor(ctx context.Context, conn *Conn, header http.Header) {
	select {
	case <-ctx.Done():
		return
	case <-conn.Done():
	}

	m.mu.Lock()
	if m.conn != conn || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.logger.Warn("connection lost, reconnecting")

	next, err := m.dialWithBackoff(ctx, header)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.setState(StateFailed)
		m.logger.Error("reconnect failed", "error", err)
		return
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		next.Close()
		return
	}
	m.conn = next
	m.state = StateConnected
	m.mu.Unlock()
	m.logger.Info("connection state", "state", StateConnected)

	go m.monitor(ctx, next, header)
}

// Conn returns the live connection, or nil when not connected.
func (m *ConnectionManager) Conn() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.conn
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Disconnect closes any live connection and resets the manager to
// StateIdle, clearing the Failed state.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.state = StateIdle
	m.mu.Unlock()
	m.logger.Info("connection state", "state", StateIdle)
}

func (m *ConnectionManager) teardownLocked() {
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

func (m *ConnectionManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.logger.Info("connection state", "state", s)
}
