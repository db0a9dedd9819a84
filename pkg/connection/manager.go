package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// DefaultAttemptTimeout bounds one background reconnect attempt.
const DefaultAttemptTimeout = 30 * time.Second

// State is the manager's view of the connection.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the connection. It must honour ctx.
type ConnectFunc func(ctx context.Context) error

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff replaces the default backoff.
func WithBackoff(b *Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithAttemptTimeout bounds each background reconnect attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.attemptTimeout = d
		}
	}
}

// WithAutoReconnect sets whether a lost connection is retried.
func WithAutoReconnect(enabled bool) Option {
	return func(m *Manager) { m.autoReconnect = enabled }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager runs a ConnectFunc and reconnects after NotifyConnectionLost.
// Callbacks run on the goroutine that caused the change, outside any lock.
type Manager struct {
	mu    sync.RWMutex
	state State

	backoff        *Backoff
	connectFn      ConnectFunc
	autoReconnect  bool
	attemptTimeout time.Duration
	logger         *slog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	loopOnce    sync.Once
	reconnectCh chan struct{}

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager returns a disconnected manager for connectFn.
func NewManager(connectFn ConnectFunc, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		state:          StateDisconnected,
		backoff:        NewBackoff(),
		connectFn:      connectFn,
		autoReconnect:  true,
		attemptTimeout: DefaultAttemptTimeout,
		logger:         slog.Default(),
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) IsConnected() bool { return m.State() == StateConnected }

// SetAutoReconnect enables or disables reconnection after a loss.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	m.autoReconnect = enabled
	m.mu.Unlock()
}

// Connect makes one foreground attempt.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	}
	old := m.state
	m.state = StateConnecting
	m.mu.Unlock()
	m.changed(old, StateConnecting)

	if err := m.connectFn(ctx); err != nil {
		if m.transition(StateConnecting, StateDisconnected) {
			m.changed(StateConnecting, StateDisconnected)
		}
		return err
	}
	if !m.transition(StateConnecting, StateConnected) {
		return ErrManagerClosed
	}
	m.backoff.Reset()
	m.changed(StateConnecting, StateConnected)
	m.connected()
	return nil
}

// Disconnect reports a deliberate disconnect. With auto-reconnect on, the
// manager starts reconnecting.
func (m *Manager) Disconnect() { m.lost("disconnect") }

// NotifyConnectionLost reports that the live connection failed.
func (m *Manager) NotifyConnectionLost() { m.lost("connection lost") }

func (m *Manager) lost(reason string) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	next := StateDisconnected
	if m.autoReconnect {
		next = StateReconnecting
	}
	m.state = next
	m.mu.Unlock()

	m.logger.Info("connection down", "reason", reason, "reconnect", next == StateReconnecting)
	m.changed(StateConnected, next)
	if fn := m.hooks().onDisconnected; fn != nil {
		fn()
	}
	if next == StateReconnecting {
		select {
		case m.reconnectCh <- struct{}{}:
		default:
		}
	}
}

// StartReconnectLoop starts the background reconnect goroutine. Later
// calls are no-ops.
func (m *Manager) StartReconnectLoop() {
	m.loopOnce.Do(func() {
		m.wg.Add(1)
		go m.reconnectLoop()
	})
}

// Close stops reconnecting and waits for the loop to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.changed(old, StateClosed)
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.reconnect()
		}
	}
}

func (m *Manager) reconnect() {
	for {
		if st := m.State(); st != StateReconnecting {
			return
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()
		if fn := m.hooks().onReconnecting; fn != nil {
			fn(attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if m.State() != StateReconnecting {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.attemptTimeout)
		err := m.connectFn(ctx)
		cancel()
		if err != nil {
			m.logger.Debug("reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		if !m.transition(StateReconnecting, StateConnected) {
			return
		}
		m.logger.Info("reconnected", "attempts", attempt)
		m.backoff.Reset()
		m.changed(StateReconnecting, StateConnected)
		m.connected()
		return
	}
}

// transition moves from one state to another if the manager is still in
// from.
func (m *Manager) transition(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return false
	}
	m.state = to
	return true
}

type hookSet struct {
	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

func (m *Manager) hooks() hookSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return hookSet{m.onStateChange, m.onConnected, m.onDisconnected, m.onReconnecting}
}

func (m *Manager) changed(old, next State) {
	if fn := m.hooks().onStateChange; fn != nil {
		fn(old, next)
	}
}

func (m *Manager) connected() {
	if fn := m.hooks().onConnected; fn != nil {
		fn()
	}
}

func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	m.onConnected = fn
	m.mu.Unlock()
}

func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	m.onDisconnected = fn
	m.mu.Unlock()
}

func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	m.onReconnecting = fn
	m.mu.Unlock()
}

// BackoffAttempts returns the reconnect attempts since the last success.
func (m *Manager) BackoffAttempts() int { return m.backoff.Attempts() }
