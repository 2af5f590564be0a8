package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adshub/adshub-go/pkg/log"
	"github.com/adshub/adshub-go/pkg/transport"
)

// recorder stamps capture events with the current session ID.
type recorder struct {
	logger   log.Logger
	endpoint string

	mu        sync.RWMutex
	sessionID string
}

func newRecorder(logger log.Logger, ep transport.Endpoint) *recorder {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &recorder{logger: logger, endpoint: ep.String()}
}

// newSession assigns a fresh session ID and returns it.
func (r *recorder) newSession() string {
	id := uuid.New().String()
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
	return id
}

func (r *recorder) session() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

func (r *recorder) event(dir log.Direction, layer log.Layer, cat log.Category) log.Event {
	return log.Event{
		Timestamp: time.Now(),
		SessionID: r.session(),
		Direction: dir,
		Layer:     layer,
		Category:  cat,
		Endpoint:  r.endpoint,
	}
}

func (r *recorder) operation(op log.OperationEvent) {
	dir := log.DirectionIn
	if op.Kind == log.OpWrite || op.Kind == log.OpAddNotification || op.Kind == log.OpRemoveNotification {
		dir = log.DirectionOut
	}
	e := r.event(dir, log.LayerTransport, log.CategoryOperation)
	e.Operation = &op
	r.logger.Log(e)
}

func (r *recorder) sample(handle uint32, address string, data []byte, at time.Time) {
	e := r.event(log.DirectionIn, log.LayerSubscription, log.CategoryNotification)
	e.Notification = &log.NotificationEvent{
		Handle:     handle,
		Address:    address,
		Data:       append([]byte(nil), data...),
		DeviceTime: at,
	}
	r.logger.Log(e)
}

func (r *recorder) state(entity log.StateEntity, oldState, newState, reason string) {
	layer := log.LayerConnection
	if entity == log.StateEntitySubscription {
		layer = log.LayerSubscription
	}
	e := r.event(log.DirectionIn, layer, log.CategoryState)
	e.StateChange = &log.StateChangeEvent{
		Entity:   entity,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}
	r.logger.Log(e)
}

func (r *recorder) failure(layer log.Layer, what string, err error) {
	e := r.event(log.DirectionIn, layer, log.CategoryError)
	e.Error = &log.ErrorEventData{
		Layer:   layer,
		Message: err.Error(),
		Context: what,
	}
	if code, ok := transport.DeviceCode(err); ok {
		c := int(code)
		e.Error.Code = &c
	}
	r.logger.Log(e)
}
