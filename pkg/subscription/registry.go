package subscription

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/transport"
)

// Notifier registers device notifications on the live session.
type Notifier interface {
	AddNotification(ctx context.Context, spec Spec, handler transport.NotificationHandler) (uint32, error)
	RemoveNotification(ctx context.Context, id uint32) error
}

// Config holds registry configuration.
type Config struct {
	// MaxSubscriptions is the maximum number of subscriptions allowed.
	MaxSubscriptions int

	// QueueSize is the dispatcher queue capacity.
	QueueSize int

	// OnUpdate sees every update on the dispatcher goroutine before the
	// consumer callback.
	OnUpdate func(Update)

	// OnDegraded is called when a notification could not be registered.
	OnDegraded func(Key, error)

	// Logger for operational events. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions: DefaultMaxSubscriptions,
		QueueSize:        DefaultQueueSize,
	}
}

// AttachResult summarizes a resubscription pass.
type AttachResult struct {
	Established int
	Failed      []Handle
	Err         error
}

// Registry tracks subscriptions and their device notifications.
type Registry struct {
	mu sync.RWMutex

	config Config

	// Subscriptions by handle
	entries map[Handle]*entry

	// Index by address and type
	byKey map[Key][]Handle

	nextHandle Handle

	// Live notifier and its generation. The generation changes whenever
	// the session changes so that late samples from an old session are
	// ignored.
	notifier Notifier
	gen      uint64

	closed bool

	dispatcher *Dispatcher
	onChange   func()
}

type entry struct {
	handle Handle
	spec   Spec

	notifID     uint32
	notifActive bool
	unavailable bool

	lastValue  any
	lastUpdate time.Time
	errorCount int
	lastErr    error
}

// NewRegistry creates a registry and starts its dispatcher.
func NewRegistry(config Config) *Registry {
	if config.MaxSubscriptions <= 0 {
		config.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	r := &Registry{
		config:  config,
		entries: make(map[Handle]*entry),
		byKey:   make(map[Key][]Handle),
	}
	r.dispatcher = NewDispatcher(config.QueueSize, config.OnUpdate, config.Logger)
	r.dispatcher.Start()
	return r
}

// OnChange sets a callback invoked whenever the set of subscriptions that
// need polling may have changed.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Dispatcher returns the registry's dispatcher.
func (r *Registry) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Subscribe registers spec. If a session is attached and spec asks for a
// device notification, the notification is registered immediately; on
// failure the subscription falls back to polling.
func (r *Registry) Subscribe(ctx context.Context, spec Spec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	if len(r.entries) >= r.config.MaxSubscriptions {
		r.mu.Unlock()
		return 0, ErrResourceExhausted
	}

	r.nextHandle++
	h := r.nextHandle
	r.entries[h] = &entry{handle: h, spec: spec}
	key := spec.Key()
	r.byKey[key] = append(r.byKey[key], h)

	n, gen := r.notifier, r.gen
	r.mu.Unlock()

	if spec.UseNotifications && n != nil {
		if err := r.establish(ctx, n, h, gen); err != nil {
			r.warnLog("subscription: notification unavailable, polling instead", "address", spec.Address, "error", err)
		}
	}

	r.debugLog("subscription: added", "handle", h, "key", key.String())
	r.changed()
	return h, nil
}

// Unsubscribe removes a subscription and its device notification.
func (r *Registry) Unsubscribe(ctx context.Context, h Handle) error {
	r.mu.Lock()
	e, ok := r.entries[h]
	if !ok {
		r.mu.Unlock()
		return ErrSubscriptionNotFound
	}
	delete(r.entries, h)
	key := e.spec.Key()
	r.byKey[key] = slices.DeleteFunc(r.byKey[key], func(other Handle) bool { return other == h })
	if len(r.byKey[key]) == 0 {
		delete(r.byKey, key)
	}
	n := r.notifier
	notifID, active := e.notifID, e.notifActive
	r.mu.Unlock()

	if active && n != nil {
		if err := n.RemoveNotification(ctx, notifID); err != nil {
			r.debugLog("subscription: remove notification failed", "address", e.spec.Address, "error", err)
		}
	}

	r.debugLog("subscription: removed", "handle", h, "key", key.String())
	r.changed()
	return nil
}

// Attach binds the registry to a new session and registers a device
// notification for every subscription that wants one. Failures mark the
// affected subscriptions notification-unavailable and do not stop the pass.
func (r *Registry) Attach(ctx context.Context, n Notifier) AttachResult {
	r.mu.Lock()
	r.notifier = n
	r.gen++
	gen := r.gen

	var handles []Handle
	for h, e := range r.entries {
		e.notifActive = false
		e.notifID = 0
		e.unavailable = false
		if e.spec.UseNotifications {
			handles = append(handles, h)
		}
	}
	r.mu.Unlock()

	slices.Sort(handles)

	var res AttachResult
	var errs []error
	for _, h := range handles {
		if err := r.establish(ctx, n, h, gen); err != nil {
			res.Failed = append(res.Failed, h)
			errs = append(errs, err)
			continue
		}
		res.Established++
	}
	res.Err = errors.Join(errs...)

	if len(res.Failed) > 0 {
		r.warnLog("subscription: resubscribed with failures",
			"established", res.Established, "failed", len(res.Failed), "error", res.Err)
	} else {
		r.debugLog("subscription: resubscribed", "established", res.Established)
	}

	r.changed()
	return res
}

// Detach forgets the session. Notification handles of the old session are
// invalid afterwards and late samples are ignored.
func (r *Registry) Detach() {
	r.mu.Lock()
	r.notifier = nil
	r.gen++
	for _, e := range r.entries {
		e.notifActive = false
		e.notifID = 0
	}
	r.mu.Unlock()

	r.changed()
}

// RemoveAll cancels every active device notification and detaches.
// Subscriptions themselves are kept.
func (r *Registry) RemoveAll(ctx context.Context) error {
	r.mu.Lock()
	n := r.notifier
	var ids []uint32
	for _, e := range r.entries {
		if e.notifActive {
			ids = append(ids, e.notifID)
		}
		e.notifActive = false
		e.notifID = 0
	}
	r.notifier = nil
	r.gen++
	r.mu.Unlock()

	if n == nil {
		return nil
	}

	var errs []error
	for _, id := range ids {
		if err := n.RemoveNotification(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the dispatcher after delivering queued updates.
// Subscribe fails afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.dispatcher.Stop(ctx)
}

// Deliver records a value for h and queues it for the consumer.
func (r *Registry) Deliver(h Handle, value any, source Source, at time.Time) {
	r.mu.Lock()
	e, ok := r.entries[h]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.lastValue = value
	e.lastUpdate = at
	e.errorCount = 0
	e.lastErr = nil
	cb := e.spec.Callback
	key := e.spec.Key()
	r.mu.Unlock()

	r.dispatcher.Post(Update{
		Handle:    h,
		Key:       key,
		Value:     value,
		Source:    source,
		Timestamp: at,
	}, cb)
}

// RecordError counts a failed read or decode for h.
func (r *Registry) RecordError(h Handle, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[h]; ok {
		e.errorCount++
		e.lastErr = err
	}
}

// Prime sets the last known value of h without notifying the consumer.
func (r *Registry) Prime(h Handle, value any, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[h]; ok && e.lastUpdate.IsZero() {
		e.lastValue = value
		e.lastUpdate = at
	}
}

// Get returns a snapshot of one subscription.
func (r *Registry) Get(h Handle) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return Info{}, ErrSubscriptionNotFound
	}
	return e.info(), nil
}

// Spec returns the spec of a subscription.
func (r *Registry) Spec(h Handle) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return Spec{}, false
	}
	return e.spec, true
}

// Lookup returns the handles subscribed to key.
func (r *Registry) Lookup(key Key) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byKey[key])
}

// List returns snapshots of all subscriptions ordered by handle.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Info) int {
		switch {
		case a.Handle < b.Handle:
			return -1
		case a.Handle > b.Handle:
			return 1
		}
		return 0
	})
	return out
}

// PollTargets returns the subscriptions that currently need polling.
func (r *Registry) PollTargets() []Info {
	var out []Info
	for _, info := range r.List() {
		if info.NeedsPolling() {
			out = append(out, info)
		}
	}
	return out
}

// Count returns the number of subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// establish registers the device notification of h on n.
func (r *Registry) establish(ctx context.Context, n Notifier, h Handle, gen uint64) error {
	r.mu.RLock()
	e, ok := r.entries[h]
	if !ok {
		r.mu.RUnlock()
		return ErrSubscriptionNotFound
	}
	spec := e.spec
	r.mu.RUnlock()

	id, err := n.AddNotification(ctx, spec, r.sampleHandler(h, gen))

	r.mu.Lock()
	e, ok = r.entries[h]
	if !ok || r.gen != gen {
		r.mu.Unlock()
		if err != nil {
			return &Error{Handle: h, Address: spec.Address, Err: err}
		}
		// A newer Attach or an Unsubscribe owns the entry now; this
		// notification has no owner left.
		_ = n.RemoveNotification(ctx, id)
		if !ok {
			return ErrSubscriptionNotFound
		}
		return &Error{Handle: h, Address: spec.Address, Err: transport.ErrSessionClosed}
	}
	if err != nil {
		e.unavailable = true
		e.lastErr = err
		onDegraded := r.config.OnDegraded
		r.mu.Unlock()
		if onDegraded != nil {
			onDegraded(spec.Key(), err)
		}
		return &Error{Handle: h, Address: spec.Address, Err: err}
	}
	e.notifID = id
	e.notifActive = true
	e.unavailable = false
	r.mu.Unlock()
	return nil
}

// sampleHandler returns the transport callback for h. It runs on the
// transport goroutine, so it only decodes and queues.
func (r *Registry) sampleHandler(h Handle, gen uint64) transport.NotificationHandler {
	return func(data []byte, ts time.Time) {
		r.mu.RLock()
		e, ok := r.entries[h]
		valid := ok && r.gen == gen
		var spec Spec
		if ok {
			spec = e.spec
		}
		r.mu.RUnlock()

		if !valid {
			return
		}

		v, err := codec.Decode(data, spec.Type, spec.CodecOptions()...)
		if err != nil {
			r.RecordError(h, err)
			r.debugLog("subscription: bad sample", "address", spec.Address, "error", err)
			return
		}
		if ts.IsZero() {
			ts = time.Now()
		}
		r.Deliver(h, v, SourceNotification, ts)
	}
}

func (r *Registry) changed() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (e *entry) info() Info {
	return Info{
		Handle:                  e.handle,
		Key:                     e.spec.Key(),
		PollInterval:            e.spec.PollInterval,
		UseNotifications:        e.spec.UseNotifications,
		NotificationActive:      e.notifActive,
		NotificationUnavailable: e.unavailable,
		LastValue:               e.lastValue,
		LastUpdate:              e.lastUpdate,
		ErrorCount:              e.errorCount,
		LastError:               e.lastErr,
	}
}

func (r *Registry) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}

func (r *Registry) warnLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Warn(msg, args...)
	}
}
