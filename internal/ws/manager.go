package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/HsiangNianian/uiabridge/internal/protocol"
)

const (
	DefaultReconnectDelay   = 100 * time.Millisecond
	DefaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

var ErrNotConnected = errors.New("controller connection is not open")

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *clientConn) WriteJSON(v any, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.conn.WriteJSON(v)
}

type Option func(*Manager)

// WithReconnectDelay sets the fixed pause between a drop and the next dial.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.policy = backoff.NewConstantBackOff(d)
		}
	}
}

// WithStateObserver registers fn for every state transition. fn runs with the
// manager locked and must not call back into it.
func WithStateObserver(fn func(State)) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

// Manager owns the single controller connection.
//
// After a drop it dials again after a fixed delay, forever. A pending reconnect
// is cancelled by any newer Connect, and results of superseded dial attempts
// are closed, so at most one socket is live at a time.
type Manager struct {
	log      logr.Logger
	url      string
	dialer   *websocket.Dialer
	policy   backoff.BackOff
	observer func(State)

	handlerMu sync.RWMutex
	handler   func([]byte)

	mu      sync.Mutex
	ctx     context.Context
	state   State
	conn    *clientConn
	attempt uint64
	timer   *time.Timer
	closed  bool
}

func NewManager(log logr.Logger, url string, opts ...Option) *Manager {
	m := &Manager{
		log:    log,
		url:    url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		policy: backoff.NewConstantBackOff(DefaultReconnectDelay),
		state:  Disconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetHandler installs the callback receiving every inbound text frame.
func (m *Manager) SetHandler(fn func([]byte)) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handler = fn
}

// Start binds the manager to ctx and dials. When ctx is done the manager closes.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.Close()
	}()
	m.Connect()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) URL() string {
	return m.url
}

// Connect starts a dial attempt, superseding any pending or in-flight one.
// It is a no-op while connected.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.ctx == nil || m.state == Connected {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.attempt++
	attempt := m.attempt
	ctx := m.ctx
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	go m.dial(ctx, attempt)
}

func (m *Manager) dial(ctx context.Context, attempt uint64) {
	m.log.V(1).Info("dial controller", "url", m.url, "attempt", attempt)
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if attempt != m.attempt || m.closed {
		if conn != nil {
			_ = conn.Close()
		}
		m.log.V(1).Info("discard superseded dial", "attempt", attempt)
		return
	}
	if err != nil {
		m.log.Info("controller connect failed", "url", m.url, "error", err.Error())
		m.setStateLocked(Disconnected)
		m.scheduleLocked()
		return
	}

	client := &clientConn{conn: conn}
	m.conn = client
	m.policy.Reset()
	m.setStateLocked(Connected)
	m.log.Info("controller connected", "url", m.url)

	go m.read(attempt, client)
}

func (m *Manager) read(attempt uint64, client *clientConn) {
	for {
		_, frame, err := client.conn.ReadMessage()
		if err != nil {
			m.dropped(attempt, client, err)
			return
		}

		m.handlerMu.RLock()
		handler := m.handler
		m.handlerMu.RUnlock()
		if handler != nil {
			handler(frame)
		}
	}
}

func (m *Manager) dropped(attempt uint64, client *clientConn, err error) {
	_ = client.conn.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != client {
		return
	}
	m.conn = nil
	if m.closed {
		return
	}
	m.log.Info("controller disconnected", "url", m.url, "attempt", attempt, "error", err.Error())
	m.setStateLocked(Disconnected)
	m.scheduleLocked()
}

func (m *Manager) scheduleLocked() {
	if m.closed || m.ctx.Err() != nil {
		return
	}
	delay := m.policy.NextBackOff()
	if delay == backoff.Stop {
		delay = DefaultReconnectDelay
	}
	m.stopTimerLocked()
	m.timer = time.AfterFunc(delay, m.Connect)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.observer != nil {
		m.observer(s)
	}
}

// Send writes msg if and only if the connection is open.
// Otherwise it returns ErrNotConnected and msg is lost.
func (m *Manager) Send(msg protocol.Message) error {
	m.mu.Lock()
	client := m.conn
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || client == nil {
		return ErrNotConnected
	}
	if err := client.WriteJSON(msg, defaultWriteTimeout); err != nil {
		// The read loop observes the broken socket and schedules the reconnect.
		_ = client.conn.Close()
		return err
	}
	return nil
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.attempt++
	m.stopTimerLocked()
	if m.conn != nil {
		_ = m.conn.conn.Close()
		m.conn = nil
	}
	m.setStateLocked(Disconnected)
}
