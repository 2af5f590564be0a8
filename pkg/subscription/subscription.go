package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/adshub/adshub-go/pkg/codec"
)

// Subscription errors.
var (
	ErrSubscription         = errors.New("subscription error")
	ErrInvalidSpec          = errors.New("invalid subscription")
	ErrResourceExhausted    = errors.New("maximum subscriptions reached")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrClosed               = errors.New("registry closed")
)

// Default subscription settings.
const (
	DefaultPollInterval     = 5 * time.Second
	DefaultCycleTime        = 100 * time.Millisecond
	DefaultMaxSubscriptions = 1024
	DefaultMaxErrors        = 3
)

// Error reports a failure on one subscription.
type Error struct {
	Handle  Handle
	Address string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("subscription %d (%s): %v", e.Handle, e.Address, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrSubscription, e.Err}
}

// Handle identifies a subscription. Handles are never reused.
type Handle uint64

// Key identifies a value on the controller.
type Key struct {
	Address string
	Type    codec.DataType
}

func (k Key) String() string {
	return k.Address + ":" + k.Type.String()
}

// Source tells where an update came from.
type Source uint8

const (
	// SourceNotification is a device notification sample.
	SourceNotification Source = iota

	// SourcePoll is a periodic read.
	SourcePoll
)

// String returns a human-readable source name.
func (s Source) String() string {
	switch s {
	case SourceNotification:
		return "NOTIFICATION"
	case SourcePoll:
		return "POLL"
	default:
		return "UNKNOWN"
	}
}

// Update is a value delivered to a consumer callback.
type Update struct {
	Handle    Handle
	Key       Key
	Value     any
	Source    Source
	Timestamp time.Time
}

// Callback receives updates on the dispatcher goroutine.
type Callback func(Update)

// Spec describes a subscription.
type Spec struct {
	// Address is the symbolic controller address, e.g. "MAIN.temperature".
	Address string

	// Type is the controller data type of the value.
	Type codec.DataType

	// PollInterval is the polling period when notifications are not used.
	PollInterval time.Duration

	// UseNotifications requests a device notification instead of polling.
	UseNotifications bool

	// CycleTime is the controller-side sampling period for notifications.
	CycleTime time.Duration

	// Scaling transforms numeric values. Nil means none.
	Scaling *codec.Scaling

	// StringLength is the STRING buffer size. Zero uses the default.
	StringLength int

	// Callback receives every update.
	Callback Callback
}

// Key returns the address and type pair of the spec.
func (s Spec) Key() Key {
	return Key{Address: s.Address, Type: s.Type}
}

// Size returns the raw value size in bytes.
func (s Spec) Size() int {
	if s.Type == codec.TypeString && s.StringLength > 0 {
		return s.StringLength
	}
	return s.Type.Size()
}

// CodecOptions returns the conversion options of the spec.
func (s Spec) CodecOptions() []codec.Option {
	var opts []codec.Option
	if s.Scaling != nil {
		opts = append(opts, codec.WithTransform(*s.Scaling))
	}
	if s.StringLength > 0 {
		opts = append(opts, codec.WithStringLength(s.StringLength))
	}
	return opts
}

// Validate checks the spec and fills defaults.
func (s *Spec) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidSpec)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unsupported type for %s", ErrInvalidSpec, s.Address)
	}
	if s.Callback == nil {
		return fmt.Errorf("%w: nil callback for %s", ErrInvalidSpec, s.Address)
	}
	if s.PollInterval < 0 || s.CycleTime < 0 {
		return fmt.Errorf("%w: negative interval for %s", ErrInvalidSpec, s.Address)
	}
	if s.Scaling != nil && s.Scaling.Factor == 0 {
		return fmt.Errorf("%w: zero scaling factor for %s", ErrInvalidSpec, s.Address)
	}
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.CycleTime == 0 {
		s.CycleTime = DefaultCycleTime
	}
	return nil
}

// Info is a snapshot of one subscription.
type Info struct {
	Handle                  Handle
	Key                     Key
	PollInterval            time.Duration
	UseNotifications        bool
	NotificationActive      bool
	NotificationUnavailable bool
	LastValue               any
	LastUpdate              time.Time
	ErrorCount              int
	LastError               error
}

// NeedsPolling reports whether the subscription must be polled.
func (i Info) NeedsPolling() bool {
	return !i.UseNotifications || !i.NotificationActive
}

// Available reports whether recent reads succeeded.
func (i Info) Available() bool {
	return i.ErrorCount < DefaultMaxErrors
}
