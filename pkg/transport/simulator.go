package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Simulator is an in-memory controller.
type Simulator struct {
	mu sync.Mutex

	// Symbol table
	values map[string][]byte

	// Live sessions
	sessions map[*simSession]struct{}

	// Notifications by handle across all sessions
	notifications map[uint32]*simNotification
	nextHandle    uint32

	// Failure injection
	offline      bool
	openFailures int
	openErr      error
	failNotify   map[string]bool
	latency      time.Duration
	state        DeviceState

	// Counters
	opens       atomic.Int64
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	logger *slog.Logger
}

type simNotification struct {
	handle  uint32
	address string
	mode    NotificationMode
	handler NotificationHandler
	session *simSession
}

// NewSimulator creates a running controller with an empty symbol table.
func NewSimulator() *Simulator {
	return &Simulator{
		values:        make(map[string][]byte),
		sessions:      make(map[*simSession]struct{}),
		notifications: make(map[uint32]*simNotification),
		failNotify:    make(map[string]bool),
		state:         DeviceState{ADSState: ADSStateRun},
	}
}

// SetLogger enables debug logging of simulator calls.
func (s *Simulator) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Define creates or replaces a symbol without firing notifications.
func (s *Simulator) Define(address string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[address] = bytes.Clone(raw)
}

// Set changes a symbol from the controller side and fires notifications
// whose mode asks for it.
func (s *Simulator) Set(address string, raw []byte) {
	s.store(address, raw)
}

// Value returns the current raw bytes of a symbol.
func (s *Simulator) Value(address string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[address]
	return bytes.Clone(v), ok
}

// SetOffline makes the controller unreachable. Existing sessions fail
// every call and new opens are refused until it is brought back.
func (s *Simulator) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// SetState sets the device state reported by ReadState.
func (s *Simulator) SetState(state DeviceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// FailOpens makes the next n opens fail with err. A nil err fails with a
// connection error.
func (s *Simulator) FailOpens(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openFailures = n
	s.openErr = err
}

// FailNotifications makes AddDeviceNotification fail for address.
func (s *Simulator) FailNotifications(address string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fail {
		s.failNotify[address] = true
	} else {
		delete(s.failNotify, address)
	}
}

// SetLatency delays every session call by d.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// DropSessions closes every live session as if the link went down.
func (s *Simulator) DropSessions() {
	s.mu.Lock()
	sessions := make([]*simSession, 0, len(s.sessions))
	for ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()

	for _, ss := range sessions {
		_ = ss.Close()
	}
}

// Opens returns the number of Open calls made so far.
func (s *Simulator) Opens() int {
	return int(s.opens.Load())
}

// Sessions returns the number of live sessions.
func (s *Simulator) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Notifications returns the number of registered notifications.
func (s *Simulator) Notifications() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

// MaxConcurrentCalls returns the highest number of session calls that were
// ever in progress at the same time.
func (s *Simulator) MaxConcurrentCalls() int {
	return int(s.maxInFlight.Load())
}

// Open implements Transport.
func (s *Simulator) Open(ctx context.Context, ep Endpoint) (Session, error) {
	s.opens.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.offline {
		return nil, fmt.Errorf("%w: %s unreachable", ErrConnection, ep.Address())
	}
	if s.openFailures > 0 {
		s.openFailures--
		if s.openErr != nil {
			return nil, s.openErr
		}
		return nil, fmt.Errorf("%w: %s refused", ErrConnection, ep.Address())
	}

	ss := &simSession{sim: s, endpoint: ep}
	s.sessions[ss] = struct{}{}
	s.debugLog("simulator: session opened", "endpoint", ep.String())
	return ss, nil
}

// store updates a symbol and delivers notifications outside the lock.
func (s *Simulator) store(address string, raw []byte) {
	s.mu.Lock()
	old, existed := s.values[address]
	changed := !existed || !bytes.Equal(old, raw)
	s.values[address] = bytes.Clone(raw)

	var targets []*simNotification
	for _, n := range s.notifications {
		if n.address != address {
			continue
		}
		if n.mode == NotifyOnChange && !changed {
			continue
		}
		targets = append(targets, n)
	}
	s.mu.Unlock()

	now := time.Now()
	for _, n := range targets {
		n.handler(bytes.Clone(raw), now)
	}
}

func (s *Simulator) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

// simSession is a Session on a Simulator.
type simSession struct {
	sim      *Simulator
	endpoint Endpoint
	closed   atomic.Bool
}

// enter accounts for a call and applies failure injection.
func (ss *simSession) enter(ctx context.Context) (func(), error) {
	sim := ss.sim
	n := sim.inFlight.Add(1)
	for {
		peak := sim.maxInFlight.Load()
		if n <= peak || sim.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	leave := func() { sim.inFlight.Add(-1) }

	sim.mu.Lock()
	latency := sim.latency
	sim.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			leave()
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}

	if err := ss.check(); err != nil {
		leave()
		return nil, err
	}
	return leave, nil
}

func (ss *simSession) check() error {
	if ss.closed.Load() {
		return ErrSessionClosed
	}
	ss.sim.mu.Lock()
	offline := ss.sim.offline
	ss.sim.mu.Unlock()
	if offline {
		return fmt.Errorf("%w: controller unreachable", ErrConnection)
	}
	return nil
}

// ReadState implements Session.
func (ss *simSession) ReadState(ctx context.Context) (DeviceState, error) {
	leave, err := ss.enter(ctx)
	if err != nil {
		return DeviceState{}, err
	}
	defer leave()

	ss.sim.mu.Lock()
	defer ss.sim.mu.Unlock()
	return ss.sim.state, nil
}

// ReadRaw implements Session.
func (ss *simSession) ReadRaw(ctx context.Context, address string, length int) ([]byte, error) {
	leave, err := ss.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	ss.sim.mu.Lock()
	defer ss.sim.mu.Unlock()

	v, ok := ss.sim.values[address]
	if !ok {
		return nil, &DeviceError{Code: CodeSymbolNotFound}
	}
	if length != len(v) {
		return nil, &DeviceError{Code: CodeInvalidSize}
	}
	return bytes.Clone(v), nil
}

// WriteRaw implements Session.
func (ss *simSession) WriteRaw(ctx context.Context, address string, data []byte) error {
	leave, err := ss.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	ss.sim.mu.Lock()
	v, ok := ss.sim.values[address]
	ss.sim.mu.Unlock()

	if !ok {
		return &DeviceError{Code: CodeSymbolNotFound}
	}
	if len(data) != len(v) {
		return &DeviceError{Code: CodeInvalidSize}
	}
	ss.sim.store(address, data)
	return nil
}

// AddDeviceNotification implements Session.
func (ss *simSession) AddDeviceNotification(ctx context.Context, address string, attrs NotificationAttributes, handler NotificationHandler) (uint32, error) {
	leave, err := ss.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer leave()

	sim := ss.sim
	sim.mu.Lock()
	defer sim.mu.Unlock()

	if sim.failNotify[address] {
		return 0, &DeviceError{Code: CodeNotificationsExceeded}
	}
	v, ok := sim.values[address]
	if !ok {
		return 0, &DeviceError{Code: CodeSymbolNotFound}
	}
	if attrs.Length != 0 && attrs.Length != len(v) {
		return 0, &DeviceError{Code: CodeInvalidSize}
	}

	sim.nextHandle++
	h := sim.nextHandle
	sim.notifications[h] = &simNotification{
		handle:  h,
		address: address,
		mode:    attrs.Mode,
		handler: handler,
		session: ss,
	}
	return h, nil
}

// RemoveDeviceNotification implements Session.
func (ss *simSession) RemoveDeviceNotification(ctx context.Context, handle uint32) error {
	leave, err := ss.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	sim := ss.sim
	sim.mu.Lock()
	defer sim.mu.Unlock()

	n, ok := sim.notifications[handle]
	if !ok || n.session != ss {
		return &DeviceError{Code: CodeInvalidNotification}
	}
	delete(sim.notifications, handle)
	return nil
}

// Close implements Session.
func (ss *simSession) Close() error {
	if !ss.closed.CompareAndSwap(false, true) {
		return nil
	}

	sim := ss.sim
	sim.mu.Lock()
	defer sim.mu.Unlock()

	delete(sim.sessions, ss)
	for h, n := range sim.notifications {
		if n.session == ss {
			delete(sim.notifications, h)
		}
	}
	sim.debugLog("simulator: session closed", "endpoint", ss.endpoint.String())
	return nil
}
