package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/adshub/adshub-go/pkg/transport"
)

// Circuit breaker defaults.
const (
	DefaultBreakerThreshold = DefaultMaxFailures
	DefaultRecoveryTimeout  = MaxBackoff
	DefaultHalfOpenRequests = 1
)

// ErrCircuitOpen is returned for calls rejected while the breaker is open.
// It matches transport.ErrConnection.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", transport.ErrConnection)

// BreakerState is the circuit breaker state.
type BreakerState uint8

const (
	// BreakerClosed lets every call through.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the recovery timeout has passed
	// since the last failure.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of trial calls through.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a Breaker. Zero fields take their defaults.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open after the last
	// failure before trial calls are let through.
	RecoveryTimeout time.Duration

	// HalfOpenRequests is the number of trial calls allowed while half
	// open.
	HalfOpenRequests int

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(oldState, newState BreakerState)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultBreakerThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		HalfOpenRequests: DefaultHalfOpenRequests,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultBreakerThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = DefaultHalfOpenRequests
	}
	return c
}

// Breaker fails calls fast after repeated failures. Its failure count
// survives reconnects; only a successful call resets it.
type Breaker struct {
	mu          sync.Mutex
	config      BreakerConfig
	state       BreakerState
	failures    int
	lastFailure time.Time
	trials      int
	now         func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	return &Breaker{config: config.normalized(), now: time.Now}
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen
// while open, and while half open once the trial calls are taken. Every
// allowed call must be followed by Success, Failure, or Release.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	old := b.state
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.config.RecoveryTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.trials = 0
		fallthrough
	case BreakerHalfOpen:
		if b.trials >= b.config.HalfOpenRequests {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.trials++
	}
	cur := b.state
	b.mu.Unlock()

	b.notify(old, cur)
	return nil
}

// Success records a call that reached the controller and closes the
// breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	old := b.state
	b.failures = 0
	b.trials = 0
	b.state = BreakerClosed
	b.mu.Unlock()

	b.notify(old, BreakerClosed)
}

// Failure records a failed call. A failed trial reopens the breaker.
func (b *Breaker) Failure() {
	b.mu.Lock()
	old := b.state
	b.failures++
	b.lastFailure = b.now()
	switch {
	case b.state == BreakerHalfOpen:
		b.state = BreakerOpen
		b.trials = 0
	case b.failures >= b.config.FailureThreshold:
		b.state = BreakerOpen
	}
	cur := b.state
	b.mu.Unlock()

	b.notify(old, cur)
}

// Release returns a trial slot for a call that ended without an outcome,
// such as one cancelled by its caller.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen && b.trials > 0 {
		b.trials--
	}
}

// Retry moves an open breaker to half open without waiting for the
// recovery timeout. The hub calls it when a new session is established.
func (b *Breaker) Retry() {
	b.mu.Lock()
	old := b.state
	if b.state == BreakerOpen {
		b.state = BreakerHalfOpen
		b.trials = 0
	}
	cur := b.state
	b.mu.Unlock()

	b.notify(old, cur)
}

// State returns the current state. An open breaker reports OPEN until a
// call is attempted after the recovery timeout.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) notify(oldState, newState BreakerState) {
	if oldState != newState && b.config.OnStateChange != nil {
		b.config.OnStateChange(oldState, newState)
	}
}
