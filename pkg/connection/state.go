package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/adshub/adshub-go/pkg/transport"
)

// Connection errors.
var (
	ErrShuttingDown      = errors.New("connection manager shutting down")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrConnectInProgress = errors.New("connection attempt in progress")
	ErrNoTransport       = errors.New("no transport configured")
	ErrSuperseded        = errors.New("connection attempt superseded")
	ErrNotConnected      = fmt.Errorf("%w: not connected", transport.ErrConnection)
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no session and no pending retry.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates a live session.
	StateConnected

	// StateReconnecting indicates a retry is scheduled.
	StateReconnecting

	// StateShuttingDown indicates the manager has been shut down.
	StateShuttingDown
)

// String returns a human-readable state name.
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
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}

// Health is a snapshot of the health counters.
type Health struct {
	// ConsecutiveFailures counts failed connection attempts and lost
	// sessions since the last successful connect.
	ConsecutiveFailures int

	// CurrentBackoff is the delay of the pending retry, or the initial
	// delay while connected.
	CurrentBackoff time.Duration

	// LastSuccessAt is the time of the last successful connect or
	// operation. Zero if there was none.
	LastSuccessAt time.Time

	// OperationFailures counts consecutive failed operations on the
	// current session.
	OperationFailures int

	// ConsecutiveTimeouts counts consecutive operation timeouts on the
	// current session.
	ConsecutiveTimeouts int

	// Reconnects counts successful connects after the first one.
	Reconnects int

	// LastError describes the most recent failure.
	LastError string
}
