package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adshub/adshub-go/pkg/transport"
)

// Default manager settings.
const (
	DefaultConnectTimeout         = 10 * time.Second
	DefaultHealthCheckInterval    = 5 * time.Second
	DefaultMaxFailures            = 3
	DefaultMaxConsecutiveTimeouts = 5
)

// Binder receives the live session. The serializer implements it.
type Binder interface {
	Bind(sess transport.Session)
	Unbind() transport.Session
}

// Config holds manager configuration.
type Config struct {
	// Transport opens sessions.
	Transport transport.Transport

	// Endpoint is the controller to connect to.
	Endpoint transport.Endpoint

	// ConnectTimeout bounds one open plus handshake.
	ConnectTimeout time.Duration

	// HealthCheckInterval is the probe period while connected.
	// Zero disables probing.
	HealthCheckInterval time.Duration

	// MaxFailures is the number of consecutive failed operations that
	// forces a reconnect.
	MaxFailures int

	// MaxConsecutiveTimeouts is the number of consecutive timeouts that
	// forces a reconnect.
	MaxConsecutiveTimeouts int

	// Backoff configures the retry delays.
	Backoff BackoffConfig

	// Binder receives the session on connect and loses it on disconnect.
	Binder Binder

	// Probe checks the live session. It should go through the serializer.
	Probe func(ctx context.Context) error

	// Logger for operational events. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:         DefaultConnectTimeout,
		HealthCheckInterval:    DefaultHealthCheckInterval,
		MaxFailures:            DefaultMaxFailures,
		MaxConsecutiveTimeouts: DefaultMaxConsecutiveTimeouts,
		Backoff:                DefaultBackoffConfig(),
	}
}

// Manager manages the session lifecycle with automatic reconnection.
type Manager struct {
	mu sync.RWMutex

	config Config

	// Guarded by mu
	state         State
	health        Health
	session       transport.Session
	epoch         uint64
	connectedOnce bool
	pending       bool
	nextAttempt   time.Time

	backoff *Backoff

	// Context for the monitor goroutine
	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	startOnce sync.Once

	// Wakes the monitor when the retry schedule changed
	wakeCh chan struct{}

	// Callbacks
	onStateChange  func(oldState, newState State, reason string)
	onConnected    func(ctx context.Context)
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a connection manager. Zero config fields take their
// defaults.
func NewManager(config Config) *Manager {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.HealthCheckInterval < 0 {
		config.HealthCheckInterval = 0
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.MaxConsecutiveTimeouts <= 0 {
		config.MaxConsecutiveTimeouts = DefaultMaxConsecutiveTimeouts
	}

	ctx, cancel := context.WithCancel(context.Background())
	backoff := NewBackoffWithConfig(config.Backoff)

	return &Manager{
		config:  config,
		state:   StateDisconnected,
		health:  Health{CurrentBackoff: backoff.Current()},
		backoff: backoff,
		ctx:     ctx,
		cancel:  cancel,
		wakeCh:  make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if a session is live.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected
}

// Health returns a snapshot of the health counters.
func (m *Manager) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// Endpoint returns the configured controller endpoint.
func (m *Manager) Endpoint() transport.Endpoint {
	return m.config.Endpoint
}

// Connect performs the first connection attempt synchronously. On failure
// the error is returned and the manager keeps retrying in the background.
func (m *Manager) Connect(ctx context.Context) error {
	m.start()

	m.mu.Lock()
	switch m.state {
	case StateShuttingDown:
		m.mu.Unlock()
		return ErrShuttingDown
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateConnecting, StateReconnecting:
		m.mu.Unlock()
		return ErrConnectInProgress
	}

	oldState := m.state
	m.state = StateConnecting
	m.pending = false
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	m.notifyState(oldState, StateConnecting, "connect requested")
	return m.attempt(ctx, epoch)
}

// Disconnect closes the session and stops retrying. Subscriptions held by
// other components are kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateShuttingDown || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	sess := m.detachLocked()
	m.state = StateDisconnected
	m.pending = false
	m.epoch++
	m.mu.Unlock()

	m.infoLog("connection: disconnected", "endpoint", m.config.Endpoint.String())
	m.notifyState(oldState, StateDisconnected, "disconnect requested")
	m.teardown(sess)
	m.wake()
}

// ForceReconnect drops the current session, resets the backoff to its
// minimum, and attempts to connect immediately.
func (m *Manager) ForceReconnect() error {
	m.start()

	m.mu.Lock()
	if m.state == StateShuttingDown {
		m.mu.Unlock()
		return ErrShuttingDown
	}

	oldState := m.state
	sess := m.detachLocked()
	m.epoch++
	m.backoff.Reset()
	m.health.ConsecutiveFailures = 0
	m.health.OperationFailures = 0
	m.health.ConsecutiveTimeouts = 0
	m.health.CurrentBackoff = m.backoff.Current()
	m.state = StateReconnecting
	m.pending = true
	m.nextAttempt = time.Now()
	m.mu.Unlock()

	m.warnLog("connection: reconnect forced", "endpoint", m.config.Endpoint.String(), "from", oldState.String())
	if oldState != StateReconnecting {
		m.notifyState(oldState, StateReconnecting, "forced reconnect")
	}
	m.teardown(sess)
	m.wake()
	return nil
}

// NotifyConnectionLost tears down a live session that is known to be broken.
func (m *Manager) NotifyConnectionLost(reason string) {
	m.breakSession(reason)
}

// ReportSuccess records a successful operation on the live session.
func (m *Manager) ReportSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return
	}
	m.health.OperationFailures = 0
	m.health.ConsecutiveTimeouts = 0
	m.health.LastSuccessAt = time.Now()
}

// ReportFailure records a failed operation. Only connection errors and
// timeouts count; crossing a threshold forces a reconnect.
func (m *Manager) ReportFailure(err error) {
	timeout := transport.IsTimeout(err)
	if !timeout && !transport.IsConnectionError(err) {
		return
	}

	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.health.OperationFailures++
	if timeout {
		m.health.ConsecutiveTimeouts++
	} else {
		m.health.ConsecutiveTimeouts = 0
	}
	m.health.LastError = err.Error()
	exceeded := m.health.OperationFailures >= m.config.MaxFailures ||
		m.health.ConsecutiveTimeouts >= m.config.MaxConsecutiveTimeouts
	failures := m.health.OperationFailures
	m.mu.Unlock()

	m.debugLog("connection: operation failed", "failures", failures, "error", err)
	if exceeded {
		m.breakSession("operation failure threshold reached: " + err.Error())
	}
}

// Shutdown stops the monitor, cancels pending retries, and closes the
// session. It is terminal. before, if set, runs after the monitor has
// stopped and before the session is closed. If ctx expires while the
// monitor is still busy, the session is closed anyway and ctx.Err() is
// returned.
func (m *Manager) Shutdown(ctx context.Context, before func(ctx context.Context)) error {
	m.mu.Lock()
	if m.state == StateShuttingDown {
		m.mu.Unlock()
		return nil
	}
	oldState := m.state
	m.state = StateShuttingDown
	m.pending = false
	m.epoch++
	m.mu.Unlock()

	m.infoLog("connection: shutting down", "endpoint", m.config.Endpoint.String())
	m.notifyState(oldState, StateShuttingDown, "shutdown")

	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
		m.warnLog("connection: monitor still busy at shutdown", "error", waitErr)
	}

	if before != nil {
		before(ctx)
	}

	m.mu.Lock()
	sess := m.detachLocked()
	m.mu.Unlock()

	if sess == nil {
		return waitErr
	}
	if err := sess.Close(); err != nil && waitErr == nil {
		return err
	}
	return waitErr
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State, reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback invoked after every successful connect.
// ctx is cancelled on shutdown.
func (m *Manager) OnConnected(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback invoked whenever a live session is lost
// or dropped.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback invoked when a retry is scheduled.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

func (m *Manager) start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.monitorLoop()
	})
}

// monitorLoop drives retries and health probes.
func (m *Manager) monitorLoop() {
	defer m.wg.Done()

	var probeC <-chan time.Time
	if m.config.HealthCheckInterval > 0 {
		ticker := time.NewTicker(m.config.HealthCheckInterval)
		defer ticker.Stop()
		probeC = ticker.C
	}

	for {
		m.mu.RLock()
		pending, at := m.pending, m.nextAttempt
		m.mu.RUnlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if pending {
			timer = time.NewTimer(max(time.Until(at), 0))
			timerC = timer.C
		}

		select {
		case <-m.ctx.Done():
			stopTimer(timer)
			return
		case <-m.wakeCh:
			stopTimer(timer)
		case <-timerC:
			m.retry()
		case <-probeC:
			stopTimer(timer)
			m.probe()
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// retry runs a scheduled attempt.
func (m *Manager) retry() {
	m.mu.Lock()
	if !m.pending || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.pending = false
	m.state = StateConnecting
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	m.notifyState(StateReconnecting, StateConnecting, "retry")
	_ = m.attempt(m.ctx, epoch)
}

// probe checks the live session.
func (m *Manager) probe() {
	m.mu.RLock()
	connected := m.state == StateConnected
	m.mu.RUnlock()
	if !connected || m.config.Probe == nil {
		return
	}

	if err := m.config.Probe(m.ctx); err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.breakSession("health check failed: " + err.Error())
		return
	}
	m.ReportSuccess()
}

// attempt opens a session and completes the transition for epoch.
func (m *Manager) attempt(ctx context.Context, epoch uint64) error {
	sess, err := m.open(ctx)
	return m.complete(epoch, sess, err)
}

func (m *Manager) open(ctx context.Context) (transport.Session, error) {
	if m.config.Transport == nil {
		return nil, ErrNoTransport
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	sess, err := m.config.Transport.Open(ctx, m.config.Endpoint)
	if err != nil {
		return nil, err
	}
	if _, err := sess.ReadState(ctx); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return sess, nil
}

func (m *Manager) complete(epoch uint64, sess transport.Session, err error) error {
	m.mu.Lock()
	if m.epoch != epoch || m.state != StateConnecting {
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		if err == nil {
			err = ErrSuperseded
		}
		return err
	}

	if err != nil {
		delay := m.failLocked(err)
		attempt := m.health.ConsecutiveFailures
		m.mu.Unlock()

		m.warnLog("connection: attempt failed",
			"endpoint", m.config.Endpoint.String(), "attempt", attempt, "retry_in", delay, "error", err)
		m.notifyState(StateConnecting, StateReconnecting, err.Error())
		m.notifyReconnecting(attempt, delay)
		m.wake()
		return err
	}

	m.session = sess
	if m.config.Binder != nil {
		m.config.Binder.Bind(sess)
	}
	m.state = StateConnected
	if m.connectedOnce {
		m.health.Reconnects++
	}
	m.connectedOnce = true
	m.backoff.Reset()
	m.health.ConsecutiveFailures = 0
	m.health.OperationFailures = 0
	m.health.ConsecutiveTimeouts = 0
	m.health.CurrentBackoff = m.backoff.Current()
	m.health.LastSuccessAt = time.Now()
	m.health.LastError = ""
	onConnected := m.onConnected
	m.mu.Unlock()

	m.infoLog("connection: connected", "endpoint", m.config.Endpoint.String())
	m.notifyState(StateConnecting, StateConnected, "")
	if onConnected != nil {
		onConnected(m.ctx)
	}
	return nil
}

// breakSession moves a live session to RECONNECTING.
func (m *Manager) breakSession(reason string) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	sess := m.detachLocked()
	m.epoch++
	delay := m.failLocked(&lostError{reason: reason})
	attempt := m.health.ConsecutiveFailures
	m.mu.Unlock()

	m.warnLog("connection: session lost",
		"endpoint", m.config.Endpoint.String(), "reason", reason, "retry_in", delay)
	m.notifyState(StateConnected, StateReconnecting, reason)
	m.teardown(sess)
	m.notifyReconnecting(attempt, delay)
	m.wake()
}

// failLocked schedules the next retry. Caller holds mu.
func (m *Manager) failLocked(err error) time.Duration {
	m.health.ConsecutiveFailures++
	delay := m.backoff.Next()
	m.health.CurrentBackoff = delay
	m.health.LastError = err.Error()
	m.state = StateReconnecting
	m.pending = true
	m.nextAttempt = time.Now().Add(delay)
	return delay
}

// detachLocked takes the session away from the binder. Caller holds mu.
func (m *Manager) detachLocked() transport.Session {
	sess := m.session
	m.session = nil
	if sess != nil && m.config.Binder != nil {
		m.config.Binder.Unbind()
	}
	return sess
}

// teardown notifies listeners and closes a detached session.
func (m *Manager) teardown(sess transport.Session) {
	if sess == nil {
		return
	}

	m.mu.RLock()
	onDisconnected := m.onDisconnected
	m.mu.RUnlock()

	if onDisconnected != nil {
		onDisconnected()
	}
	if err := sess.Close(); err != nil {
		m.debugLog("connection: close failed", "error", err)
	}
}

func (m *Manager) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
		// Already pending
	}
}

func (m *Manager) notifyState(oldState, newState State, reason string) {
	m.mu.RLock()
	fn := m.onStateChange
	m.mu.RUnlock()
	if fn != nil {
		fn(oldState, newState, reason)
	}
}

func (m *Manager) notifyReconnecting(attempt int, delay time.Duration) {
	m.mu.RLock()
	fn := m.onReconnecting
	m.mu.RUnlock()
	if fn != nil {
		fn(attempt, delay)
	}
}

type lostError struct {
	reason string
}

func (e *lostError) Error() string {
	return "session lost: " + e.reason
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Debug(msg, args...)
	}
}

func (m *Manager) infoLog(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Info(msg, args...)
	}
}

func (m *Manager) warnLog(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Warn(msg, args...)
	}
}
