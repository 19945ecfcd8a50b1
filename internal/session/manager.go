// Package session owns the connect, disconnect and reconnect lifecycle of the
// venue session and publishes every connection state transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// Config bounds connection attempts.
type Config struct {
	ConnectTimeout time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 15 * time.Second,
		BaseDelay:      2 * time.Second,
		MaxDelay:       60 * time.Second,
		MaxAttempts:    8,
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	venue   domain.VenueSession
	cfg     Config
	publish func(domain.Event)
	logger  *slog.Logger

	mu       sync.Mutex
	state    domain.ConnectionState
	listener domain.VenueListener
	stop     chan struct{} // closed by Disconnect to end a reconnect loop
	wg       sync.WaitGroup
}

// NewManager creates a Manager in the Disconnected state. publish receives a
// ConnectionStateChanged for every transition; it may be nil.
func NewManager(venue domain.VenueSession, cfg Config, publish func(domain.Event), logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if publish == nil {
		publish = func(domain.Event) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		venue:   venue,
		cfg:     cfg,
		publish: publish,
		logger:  logger.With(slog.String("component", "session")),
		state:   domain.ConnectionDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Require returns ErrNotConnected unless the session is Connected.
func (m *Manager) Require() error {
	if s := m.State(); s != domain.ConnectionConnected {
		return fmt.Errorf("%w: session is %s", domain.ErrNotConnected, s)
	}
	return nil
}

// Connect establishes the session and routes venue callbacks to l. It blocks
// until the venue accepts the session or the connect timeout elapses.
// Connect may be called again after Failed or Disconnect.
func (m *Manager) Connect(ctx context.Context, l domain.VenueListener) error {
	m.mu.Lock()
	switch m.state {
	case domain.ConnectionConnected:
		m.mu.Unlock()
		return nil
	case domain.ConnectionConnecting, domain.ConnectionReconnecting:
		s := m.state
		m.mu.Unlock()
		return fmt.Errorf("session: connect: already %s", s)
	}
	m.listener = l
	m.stop = make(chan struct{})
	prev := m.transitionLocked(domain.ConnectionConnecting)
	m.mu.Unlock()
	m.emit(domain.ConnectionConnecting, prev, "")

	err := m.dial(ctx)

	m.mu.Lock()
	if m.state != domain.ConnectionConnecting {
		// Disconnect ran while dialing.
		m.mu.Unlock()
		if err == nil {
			_ = m.venue.Disconnect()
		}
		return fmt.Errorf("session: connect: %w: disconnected while connecting", domain.ErrConnection)
	}
	if err != nil {
		m.transitionLocked(domain.ConnectionDisconnected)
		m.mu.Unlock()
		m.logger.WarnContext(ctx, "connect failed", slog.String("error", err.Error()))
		m.emit(domain.ConnectionDisconnected, domain.ConnectionConnecting, err.Error())
		return fmt.Errorf("session: connect: %w: %w", domain.ErrConnection, err)
	}
	m.transitionLocked(domain.ConnectionConnected)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session connected")
	m.emit(domain.ConnectionConnected, domain.ConnectionConnecting, "")
	return nil
}

func (m *Manager) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	return m.venue.Connect(ctx, &listener{m: m})
}

// Disconnect ends the session and any reconnect loop. It is idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.stop != nil {
		select {
		case <-m.stop:
		default:
			close(m.stop)
		}
	}
	prev := m.transitionLocked(domain.ConnectionDisconnected)
	m.mu.Unlock()

	m.wg.Wait()
	if prev == domain.ConnectionDisconnected {
		return nil
	}

	err := m.venue.Disconnect()
	m.logger.Info("session disconnected", slog.String("previous", prev.String()))
	m.emit(domain.ConnectionDisconnected, prev, "")
	if err != nil {
		return fmt.Errorf("session: disconnect: %w", err)
	}
	return nil
}

// connectionLost runs on the venue's callback goroutine.
func (m *Manager) connectionLost(err error) {
	m.mu.Lock()
	if m.state != domain.ConnectionConnected {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(domain.ConnectionReconnecting)
	stop := m.stop
	m.wg.Add(1)
	m.mu.Unlock()

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	m.logger.Warn("session lost, reconnecting", slog.String("error", reason))
	m.emit(domain.ConnectionReconnecting, domain.ConnectionConnected, reason)

	go m.reconnect(stop)
}

// reconnect retries with exponential backoff until the attempt ceiling, then
// gives up in the Failed state. The final transition is published after the
// loop is released so a subscriber may call Disconnect.
func (m *Manager) reconnect(stop <-chan struct{}) {
	ev, ok := m.retry(stop)
	m.wg.Done()
	if ok {
		m.publish(ev)
	}
}

func (m *Manager) retry(stop <-chan struct{}) (domain.ConnectionStateChanged, bool) {
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		delay := Backoff(attempt, m.cfg.BaseDelay, m.cfg.MaxDelay)
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return domain.ConnectionStateChanged{}, false
		case <-timer.C:
		}

		lastErr = m.dial(context.Background())
		if lastErr == nil {
			m.mu.Lock()
			if m.state != domain.ConnectionReconnecting {
				m.mu.Unlock()
				_ = m.venue.Disconnect()
				return domain.ConnectionStateChanged{}, false
			}
			m.transitionLocked(domain.ConnectionConnected)
			m.mu.Unlock()

			m.logger.Info("session reconnected", slog.Int("attempt", attempt+1))
			return stateChanged(domain.ConnectionConnected, domain.ConnectionReconnecting, ""), true
		}
		m.logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()),
		)
	}

	m.mu.Lock()
	if m.state != domain.ConnectionReconnecting {
		m.mu.Unlock()
		return domain.ConnectionStateChanged{}, false
	}
	m.transitionLocked(domain.ConnectionFailed)
	m.mu.Unlock()

	reason := errors.Join(domain.ErrConnection, lastErr).Error()
	m.logger.Error("reconnect attempts exhausted", slog.Int("attempts", m.cfg.MaxAttempts), slog.String("error", reason))
	_ = m.venue.Disconnect()
	return stateChanged(domain.ConnectionFailed, domain.ConnectionReconnecting, reason), true
}

func (m *Manager) transitionLocked(next domain.ConnectionState) domain.ConnectionState {
	prev := m.state
	m.state = next
	return prev
}

func (m *Manager) emit(state, prev domain.ConnectionState, reason string) {
	m.publish(stateChanged(state, prev, reason))
}

func stateChanged(state, prev domain.ConnectionState, reason string) domain.ConnectionStateChanged {
	return domain.ConnectionStateChanged{State: state, Previous: prev, Reason: reason, Time: time.Now()}
}

func (m *Manager) inner() domain.VenueListener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

// listener forwards venue callbacks to the registered listener and takes
// over connection loss.
type listener struct {
	m *Manager
}

func (l *listener) OnOrderStatus(r domain.OrderStatusReport) { l.m.inner().OnOrderStatus(r) }
func (l *listener) OnExecution(r domain.ExecutionReport)     { l.m.inner().OnExecution(r) }
func (l *listener) OnAccountValue(v domain.AccountValue)     { l.m.inner().OnAccountValue(v) }
func (l *listener) OnPosition(p domain.PositionReport)       { l.m.inner().OnPosition(p) }

func (l *listener) OnConnectionLost(err error) {
	l.m.connectionLost(err)
	l.m.inner().OnConnectionLost(err)
}
