package hub

import (
	"errors"
	"log/slog"
	"time"

	"github.com/adshub/adshub-go/pkg/connection"
	"github.com/adshub/adshub-go/pkg/log"
	"github.com/adshub/adshub-go/pkg/subscription"
	"github.com/adshub/adshub-go/pkg/transport"
)

// DefaultOperationTimeout bounds one session call including the wait for
// the serializer.
const DefaultOperationTimeout = 5 * time.Second

// Configuration errors.
var (
	ErrNoTransport = errors.New("hub: no transport configured")
	ErrNoEndpoint  = errors.New("hub: endpoint host required")
	ErrBadTimeout  = errors.New("hub: operation timeout must be positive")
)

// Config holds hub configuration.
type Config struct {
	// Transport opens sessions to the controller.
	Transport transport.Transport

	// Endpoint is the controller.
	Endpoint transport.Endpoint

	// OperationTimeout bounds every session call.
	OperationTimeout time.Duration

	// ConnectTimeout bounds one open plus handshake.
	ConnectTimeout time.Duration

	// HealthCheckInterval is the probe period. Zero disables probing.
	HealthCheckInterval time.Duration

	// MaxFailures is the number of consecutive failed operations that
	// forces a reconnect.
	MaxFailures int

	// MaxConsecutiveTimeouts is the number of consecutive timeouts that
	// forces a reconnect.
	MaxConsecutiveTimeouts int

	// Backoff configures reconnect delays.
	Backoff connection.BackoffConfig

	// Breaker configures the circuit breaker in front of session calls.
	// Its OnStateChange is set by the hub.
	Breaker connection.BreakerConfig

	// MaxSubscriptions caps the number of subscriptions.
	MaxSubscriptions int

	// QueueSize is the update dispatch queue capacity.
	QueueSize int

	// Store persists last values. Optional.
	Store ValueStore

	// Observer receives lifecycle and operation events. Optional.
	Observer Observer

	// Capture receives protocol events. Optional.
	Capture log.Logger

	// Logger for operational events. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns the default hub configuration. Transport and
// Endpoint must still be set.
func DefaultConfig() Config {
	cc := connection.DefaultConfig()
	return Config{
		Endpoint:               transport.Endpoint{Port: transport.DefaultPort},
		OperationTimeout:       DefaultOperationTimeout,
		ConnectTimeout:         cc.ConnectTimeout,
		HealthCheckInterval:    cc.HealthCheckInterval,
		MaxFailures:            cc.MaxFailures,
		MaxConsecutiveTimeouts: cc.MaxConsecutiveTimeouts,
		Backoff:                cc.Backoff,
		Breaker:                connection.DefaultBreakerConfig(),
		MaxSubscriptions:       subscription.DefaultMaxSubscriptions,
		QueueSize:              subscription.DefaultQueueSize,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Transport == nil {
		return ErrNoTransport
	}
	if c.Endpoint.Host == "" {
		return ErrNoEndpoint
	}
	if c.OperationTimeout <= 0 {
		return ErrBadTimeout
	}
	return nil
}
