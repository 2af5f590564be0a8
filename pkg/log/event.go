package log

import (
	"time"
)

// Event is one captured protocol event. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the session the event belongs to (UUID). A new
	// ID is assigned on every successful connect.
	SessionID string `cbor:"2,keyasint"`

	// Direction of the data flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer that captured the event.
	Layer Layer `cbor:"4,keyasint"`

	// Category of the event.
	Category Category `cbor:"5,keyasint"`

	// Endpoint is the controller, "netid@host:port".
	Endpoint string `cbor:"6,keyasint,omitempty"`

	// One payload is set.
	Operation    *OperationEvent    `cbor:"10,keyasint,omitempty"`
	Notification *NotificationEvent `cbor:"11,keyasint,omitempty"`
	StateChange  *StateChangeEvent  `cbor:"12,keyasint,omitempty"`
	Error        *ErrorEventData    `cbor:"13,keyasint,omitempty"`
}

// Direction indicates data flow relative to the client.
type Direction uint8

const (
	// DirectionIn is data coming from the controller.
	DirectionIn Direction = 0
	// DirectionOut is data sent to the controller.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerTransport is the session call layer.
	LayerTransport Layer = 0
	// LayerConnection is the connection manager.
	LayerConnection Layer = 1
	// LayerSubscription is the notification registry.
	LayerSubscription Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerConnection:
		return "CONNECTION"
	case LayerSubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	// CategoryOperation is a completed session call.
	CategoryOperation Category = 0
	// CategoryNotification is a sample pushed by the controller.
	CategoryNotification Category = 1
	// CategoryState is a lifecycle transition.
	CategoryState Category = 2
	// CategoryError is a failure.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryOperation:
		return "OPERATION"
	case CategoryNotification:
		return "NOTIFICATION"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// OpKind is the kind of session call.
type OpKind uint8

const (
	OpRead OpKind = iota
	OpWrite
	OpReadState
	OpAddNotification
	OpRemoveNotification
)

// String returns the operation name.
func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpReadState:
		return "READ_STATE"
	case OpAddNotification:
		return "ADD_NOTIFICATION"
	case OpRemoveNotification:
		return "REMOVE_NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

// OperationEvent captures one session call.
type OperationEvent struct {
	// Kind of call.
	Kind OpKind `cbor:"1,keyasint"`

	// Address is the symbolic address, if any.
	Address string `cbor:"2,keyasint,omitempty"`

	// DataType is the controller type name, if known.
	DataType string `cbor:"3,keyasint,omitempty"`

	// Size is the raw value size in bytes.
	Size int `cbor:"4,keyasint,omitempty"`

	// Data is the raw value (reads and writes only).
	Data []byte `cbor:"5,keyasint,omitempty"`

	// Handle is the device notification handle (notification calls only).
	Handle uint32 `cbor:"6,keyasint,omitempty"`

	// Duration is the time spent in the call, including the wait for the
	// serializer. Stored as nanoseconds.
	Duration time.Duration `cbor:"7,keyasint,omitempty"`

	// Failed is set when the call returned an error. The error itself is
	// recorded as a separate event.
	Failed bool `cbor:"8,keyasint,omitempty"`
}

// NotificationEvent captures one device notification sample.
type NotificationEvent struct {
	// Handle is the device notification handle.
	Handle uint32 `cbor:"1,keyasint"`

	// Address is the symbolic address.
	Address string `cbor:"2,keyasint"`

	// Data is the raw sample.
	Data []byte `cbor:"3,keyasint,omitempty"`

	// DeviceTime is the controller timestamp of the sample.
	DeviceTime time.Time `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures a lifecycle transition.
type StateChangeEvent struct {
	// Entity that changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change, if known.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	// StateEntityConnection is the connection manager state.
	StateEntityConnection StateEntity = 0
	// StateEntitySubscription is a subscription moving between
	// notification and polling.
	StateEntitySubscription StateEntity = 1
	// StateEntityBreaker is the circuit breaker in front of session calls.
	StateEntityBreaker StateEntity = 2
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	case StateEntityBreaker:
		return "BREAKER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures a failure.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Code is the ADS device error code, if any.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what was being done, e.g. "read MAIN.temp".
	Context string `cbor:"4,keyasint,omitempty"`
}

// Summary returns a one-line description of the payload.
func (e Event) Summary() string {
	switch {
	case e.Operation != nil:
		s := e.Operation.Kind.String()
		if e.Operation.Address != "" {
			s += " " + e.Operation.Address
		}
		if e.Operation.Failed {
			s += " (failed)"
		}
		return s
	case e.Notification != nil:
		return "SAMPLE " + e.Notification.Address
	case e.StateChange != nil:
		s := e.StateChange.Entity.String() + " " + e.StateChange.OldState + " -> " + e.StateChange.NewState
		if e.StateChange.Reason != "" {
			s += " (" + e.StateChange.Reason + ")"
		}
		return s
	case e.Error != nil:
		if e.Error.Context != "" {
			return e.Error.Context + ": " + e.Error.Message
		}
		return e.Error.Message
	default:
		return ""
	}
}
