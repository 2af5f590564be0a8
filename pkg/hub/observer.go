package hub

import (
	"time"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/connection"
	"github.com/adshub/adshub-go/pkg/log"
	"github.com/adshub/adshub-go/pkg/subscription"
)

// Observer receives hub events. Methods are called synchronously and must
// return quickly.
type Observer interface {
	// StateChanged is called on every connection state transition.
	StateChanged(oldState, newState connection.State, reason string)

	// Reconnecting is called when a reconnect attempt is scheduled.
	Reconnecting(attempt int, delay time.Duration)

	// OperationCompleted is called after every session call.
	OperationCompleted(kind log.OpKind, duration time.Duration, err error)

	// UpdateDelivered is called for every value handed to a consumer.
	UpdateDelivered(u subscription.Update)

	// SubscriptionDegraded is called when a device notification could not
	// be registered and the value falls back to polling.
	SubscriptionDegraded(key subscription.Key, err error)
}

// ValueStore persists last known values across restarts.
type ValueStore interface {
	// Load returns the stored value for key. ok is false if there is none.
	Load(key subscription.Key) (value any, at time.Time, ok bool, err error)

	// Save stores the latest value for key.
	Save(key subscription.Key, value any, at time.Time) error
}

// NoopObserver ignores all events.
type NoopObserver struct{}

func (NoopObserver) StateChanged(connection.State, connection.State, string) {}
func (NoopObserver) Reconnecting(int, time.Duration) {}
func (NoopObserver) OperationCompleted(log.OpKind, time.Duration, error) {}
func (NoopObserver) UpdateDelivered(subscription.Update) {}
func (NoopObserver) SubscriptionDegraded(subscription.Key, error) {}

var _ Observer = NoopObserver{}

// typeName is the capture name of t, empty for unknown types.
func typeName(t codec.DataType) string {
	if !t.Valid() {
		return ""
	}
	return t.String()
}
