// Package connection manages the persistent push connection: connect, send,
// receive, close and reconnect with backoff.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/interfaces"
	"github.com/bobmcallan/hive/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send when the state is not connected.
var ErrNotConnected = errors.New("connection: not connected")

const defaultWriteWait = 10 * time.Second

// Config holds connection settings.
type Config struct {
	URL          string
	ClientID     string
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Backoff      models.BackoffStrategy
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

// ConfigFrom builds a Config from the [connection] section and the upstream URL.
func ConfigFrom(c common.ConnectionConfig, wsURL string) Config {
	backoff := models.BackoffLinear
	if c.Backoff == string(models.BackoffExponential) {
		backoff = models.BackoffExponential
	}
	return Config{
		URL:          wsURL,
		MaxAttempts:  c.GetMaxAttempts(),
		BaseDelay:    c.GetBaseDelay(),
		MaxDelay:     c.GetMaxDelay(),
		Backoff:      backoff,
		PingInterval: c.GetPingInterval(),
		PongWait:     c.GetPongWait(),
	}
}

// Option configures the manager
type Option func(*Manager)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithSleep replaces the reconnect delay wait. fn must return early with an
// error when ctx is cancelled.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

// WithMessageHandler sets the callback for every inbound data frame.
// Frames are delivered in arrival order on the connection goroutine.
func WithMessageHandler(fn func(frame []byte)) Option {
	return func(m *Manager) { m.onMessage = fn }
}

// WithPublisher sets where state transitions are published.
func WithPublisher(p interfaces.EventPublisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// Manager owns one logical client session and its reconnect loop.
type Manager struct {
	cfg       Config
	dialer    Dialer
	sleep     func(ctx context.Context, d time.Duration) error
	onMessage func(frame []byte)
	publisher interfaces.EventPublisher
	logger    *common.Logger

	mu      sync.Mutex
	state   models.ConnectionState
	attempt int
	lastErr string
	conn    Conn
	cancel  context.CancelFunc
	gen     uint64

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewManager creates a manager in the disconnected state.
func NewManager(cfg Config, logger *common.Logger, opts ...Option) *Manager {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.New().String()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.Backoff == "" {
		cfg.Backoff = models.BackoffLinear
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}

	m := &Manager{
		cfg:       cfg,
		sleep:     sleepContext,
		onMessage: func([]byte) {},
		logger:    logger,
		state:     models.ConnectionDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NewWSDialer(10 * time.Second)
	}
	return m
}

// URL returns the session URL including the client id path segment.
func (m *Manager) URL() string {
	return strings.TrimRight(m.cfg.URL, "/") + "/" + url.PathEscape(m.cfg.ClientID)
}

// ClientID returns the per-session client id.
func (m *Manager) ClientID() string {
	return m.cfg.ClientID
}

// State returns the current lifecycle state.
func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the state with attempt bookkeeping.
func (m *Manager) Status() models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.ConnectionStatus{
		State:       m.state,
		ClientID:    m.cfg.ClientID,
		Attempt:     m.attempt,
		MaxAttempts: m.cfg.MaxAttempts,
		LastError:   m.lastErr,
	}
}

// Connect starts a session with the attempt counter at 0. It is a no-op while
// connecting or connected. From reconnecting it abandons the pending delay.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == models.ConnectionConnecting || m.state == models.ConnectionConnected {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.gen++
	gen := m.gen
	m.attempt = 0
	prev := m.state
	m.state = models.ConnectionConnecting
	m.mu.Unlock()

	m.logger.Info().Str("url", m.URL()).Str("from", string(prev)).Msg("Connection: connecting")
	m.publishState(models.ConnectionEvent{State: models.ConnectionConnecting, Previous: prev})

	m.safeGo("connection-session", func() { m.run(ctx, gen) })
}

// Send marshals and writes one command frame. Writes are serialized.
func (m *Manager) Send(msg models.OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	m.mu.Lock()
	conn := m.conn
	connected := m.state == models.ConnectionConnected && conn != nil
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Close ends the session, stops reconnecting and waits for the session
// goroutines to exit. Must not be called from the message handler.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.gen++
	conn := m.conn
	m.conn = nil
	prev := m.state
	m.state = models.ConnectionDisconnected
	m.attempt = 0
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		m.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		err = conn.Close()
	}
	m.wg.Wait()

	if prev != models.ConnectionDisconnected {
		m.logger.Info().Str("from", string(prev)).Msg("Connection: closed")
		m.publishState(models.ConnectionEvent{State: models.ConnectionDisconnected, Previous: prev})
	}
	return err
}

func (m *Manager) run(ctx context.Context, gen uint64) {
	for {
		if !m.transition(gen, models.ConnectionConnecting) {
			return
		}

		conn, err := m.dialer.Dial(ctx, m.URL())
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}

		if err == nil {
			if !m.opened(gen, conn) {
				conn.Close()
				return
			}
			err = m.readLoop(ctx, conn)
			m.detach(gen, conn)
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn().Err(err).Msg("Connection: lost")
		} else {
			m.logger.Warn().Err(err).Msg("Connection: dial failed")
		}

		delay, ok := m.failed(gen, err)
		if !ok {
			return
		}
		if err := m.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// opened records a fresh connection, resets the counter and primes state.
func (m *Manager) opened(gen uint64, conn Conn) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	prev := m.state
	m.conn = conn
	m.attempt = 0
	m.lastErr = ""
	m.state = models.ConnectionConnected
	m.mu.Unlock()

	m.logger.Info().Str("client_id", m.cfg.ClientID).Msg("Connection: connected")
	m.publishState(models.ConnectionEvent{State: models.ConnectionConnected, Previous: prev})
	m.publish(models.EventConnected, models.ConnectionEvent{State: models.ConnectionConnected, Previous: prev})

	if err := m.Send(models.NewRequestPrices()); err != nil {
		m.logger.Warn().Err(err).Msg("Connection: priming price request failed")
	}
	return true
}

func (m *Manager) detach(gen uint64, conn Conn) {
	m.mu.Lock()
	if gen == m.gen && m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.Close()
}

// failed counts a failure and returns the delay before the next attempt.
// It returns false once the attempt budget is spent (state failed) or the
// session is stale.
func (m *Manager) failed(gen uint64, cause error) (time.Duration, bool) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return 0, false
	}
	m.attempt++
	attempt := m.attempt
	m.lastErr = msg
	prev := m.state

	if attempt > m.cfg.MaxAttempts {
		m.state = models.ConnectionFailed
		cancel := m.cancel
		m.cancel = nil
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		m.logger.Error().Int("attempts", attempt-1).Str("last_error", msg).Msg("Connection: reconnect attempts exhausted")
		evt := models.ConnectionEvent{State: models.ConnectionFailed, Previous: prev, Attempt: attempt - 1, Error: msg}
		m.publishState(evt)
		m.publish(models.EventConnectionFailed, evt)
		return 0, false
	}

	delay := Backoff(m.cfg.Backoff, m.cfg.BaseDelay, m.cfg.MaxDelay, attempt)
	m.state = models.ConnectionReconnecting
	m.mu.Unlock()

	m.logger.Info().
		Int("attempt", attempt).
		Int("max_attempts", m.cfg.MaxAttempts).
		Dur("delay", delay).
		Msg("Connection: reconnect scheduled")
	m.publishState(models.ConnectionEvent{
		State:    models.ConnectionReconnecting,
		Previous: prev,
		Attempt:  attempt,
		DelayMS:  delay.Milliseconds(),
		Error:    msg,
	})
	return delay, true
}

// transition moves a live session to state. It returns false for a stale session.
func (m *Manager) transition(gen uint64, state models.ConnectionState) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	prev := m.state
	attempt := m.attempt
	m.state = state
	m.mu.Unlock()

	if prev != state {
		m.publishState(models.ConnectionEvent{State: state, Previous: prev, Attempt: attempt})
	}
	return true
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	pongWait := m.cfg.PongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	m.safeGo("connection-ping", func() { m.pingLoop(conn, stop) })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		m.onMessage(data)
	}
}

func (m *Manager) pingLoop(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Debug().Err(err).Msg("Connection: ping failed")
				conn.Close()
				return
			}
		}
	}
}

func (m *Manager) publishState(evt models.ConnectionEvent) {
	m.publish(models.EventConnectionState, evt)
}

func (m *Manager) publish(typ models.EventType, evt models.ConnectionEvent) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(models.Event{Type: typ, Payload: evt})
}

// safeGo launches a goroutine with panic recovery and logging.
func (m *Manager) safeGo(name string, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in connection goroutine")
			}
		}()
		fn()
	}()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
