package transport

import (
	"context"
	"net"
	"strconv"
	"time"
)

// DefaultPort is the default ADS port of the first PLC runtime.
const DefaultPort = 851

// Endpoint identifies a controller.
type Endpoint struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	NetID string `json:"ams_net_id"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.NetID + "@" + e.Address()
}

// ADS run state reported by a healthy controller.
const ADSStateRun uint16 = 5

// DeviceState is the result of a ReadState probe.
type DeviceState struct {
	ADSState    uint16
	DeviceState uint16
}

// NotificationMode selects when the controller sends samples.
type NotificationMode uint8

const (
	// NotifyOnChange sends a sample when the value changes.
	NotifyOnChange NotificationMode = iota

	// NotifyCyclic sends a sample every cycle.
	NotifyCyclic
)

// NotificationAttributes configures a device notification.
type NotificationAttributes struct {
	// Length is the size of the sampled value in bytes.
	Length int

	// Mode selects on-change or cyclic delivery.
	Mode NotificationMode

	// CycleTime is how often the controller checks the value.
	CycleTime time.Duration

	// MaxDelay bounds how long the controller may batch samples.
	MaxDelay time.Duration
}

// NotificationHandler receives raw samples. It is invoked on the transport's
// own goroutine and must not block.
type NotificationHandler func(data []byte, timestamp time.Time)

// Session is a live logical connection to a controller.
// Implementations need not be safe for concurrent use.
type Session interface {
	// ReadState reads the controller's run state.
	ReadState(ctx context.Context) (DeviceState, error)

	// ReadRaw reads length bytes from a symbolic address.
	ReadRaw(ctx context.Context, address string, length int) ([]byte, error)

	// WriteRaw writes data to a symbolic address.
	WriteRaw(ctx context.Context, address string, data []byte) error

	// AddDeviceNotification registers handler for changes of address and
	// returns the controller-assigned notification handle.
	AddDeviceNotification(ctx context.Context, address string, attrs NotificationAttributes, handler NotificationHandler) (uint32, error)

	// RemoveDeviceNotification cancels a notification.
	RemoveDeviceNotification(ctx context.Context, handle uint32) error

	// Close tears the session down. Notification handles become invalid.
	Close() error
}

// Transport opens sessions.
type Transport interface {
	Open(ctx context.Context, ep Endpoint) (Session, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, ep Endpoint) (Session, error)

// Open calls f.
func (f TransportFunc) Open(ctx context.Context, ep Endpoint) (Session, error) {
	return f(ctx, ep)
}

// Compile-time interface satisfaction checks.
var (
	_ Transport = (*Simulator)(nil)
	_ Transport = TransportFunc(nil)
	_ Session   = (*simSession)(nil)
)
