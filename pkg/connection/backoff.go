package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Reconnect delay defaults.
const (
	InitialBackoff    = 5 * time.Second
	MaxBackoff        = 60 * time.Second
	BackoffMultiplier = 2.0
)

// BackoffConfig shapes the reconnect delays. Zero fields take the defaults.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter adds up to this fraction of the delay at random.
	Jitter float64
}

// DefaultBackoffConfig returns 5s doubling up to 60s without jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Delay is the base delay before retry n (n >= 1) of an unbroken run of
// failed connects: min(Initial * Multiplier^(n-1), Max).
func (c BackoffConfig) Delay(n int) time.Duration {
	c = c.normalized()
	d := float64(c.Initial)
	for i := 1; i < n; i++ {
		d *= c.Multiplier
		if d >= float64(c.Max) {
			return c.Max
		}
	}
	return time.Duration(d)
}

// Backoff counts failed connects and hands out the matching delays. It is
// safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	config   BackoffConfig
	failures int
}

// NewBackoff returns a Backoff with the default delays.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// NewBackoffWithConfig returns a Backoff for cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	return &Backoff{config: cfg.normalized()}
}

// Next records a failure and returns the delay before the retry.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	d := b.config.Delay(b.failures)
	if b.config.Jitter > 0 {
		d += time.Duration(float64(d) * b.config.Jitter * rand.Float64())
	}
	return d
}

// Reset forgets the failures.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failures returns the failures recorded since the last reset.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Current returns the base delay the next failure will get.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.Delay(b.failures + 1)
}
