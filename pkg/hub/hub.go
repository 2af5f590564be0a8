package hub

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/connection"
	"github.com/adshub/adshub-go/pkg/log"
	"github.com/adshub/adshub-go/pkg/polling"
	"github.com/adshub/adshub-go/pkg/serializer"
	"github.com/adshub/adshub-go/pkg/subscription"
	"github.com/adshub/adshub-go/pkg/transport"
)

// Hub manages the session to one controller.
type Hub struct {
	config Config

	manager    *connection.Manager
	breaker    *connection.Breaker
	serializer *serializer.Serializer
	registry   *subscription.Registry
	poller     *polling.Scheduler
	notifier   *notifier
	capture    *recorder
	observer   Observer

	shutdown atomic.Bool
}

// New creates a hub. It does not connect.
func New(config Config) (*Hub, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	h := &Hub{
		config:   config,
		capture:  newRecorder(config.Capture, config.Endpoint),
		observer: config.Observer,
	}
	if h.observer == nil {
		h.observer = NoopObserver{}
	}

	h.serializer = serializer.New(config.Logger)
	bc := config.Breaker
	bc.OnStateChange = h.handleBreakerChange
	h.breaker = connection.NewBreaker(bc)
	h.notifier = &notifier{hub: h}

	h.registry = subscription.NewRegistry(subscription.Config{
		MaxSubscriptions: config.MaxSubscriptions,
		QueueSize:        config.QueueSize,
		OnUpdate:         h.handleUpdate,
		OnDegraded:       h.handleDegraded,
		Logger:           config.Logger,
	})
	h.registry.OnChange(h.syncPolling)

	h.poller = polling.NewScheduler(context.Background(), polling.Config{
		Read:      h.pollRead,
		OnValue:   h.pollValue,
		OnError:   h.pollError,
		Immediate: true,
		Logger:    config.Logger,
	})

	h.manager = connection.NewManager(connection.Config{
		Transport:              config.Transport,
		Endpoint:               config.Endpoint,
		ConnectTimeout:         config.ConnectTimeout,
		HealthCheckInterval:    config.HealthCheckInterval,
		MaxFailures:            config.MaxFailures,
		MaxConsecutiveTimeouts: config.MaxConsecutiveTimeouts,
		Backoff:                config.Backoff,
		Binder:                 h.serializer,
		Probe:                  h.probe,
		Logger:                 config.Logger,
	})
	h.manager.OnStateChange(h.handleStateChange)
	h.manager.OnConnected(h.handleConnected)
	h.manager.OnDisconnected(h.handleDisconnected)
	h.manager.OnReconnecting(h.observer.Reconnecting)

	return h, nil
}

// Connect performs the first connection attempt. On failure the error is
// returned and the hub keeps retrying in the background.
func (h *Hub) Connect(ctx context.Context) error {
	return h.manager.Connect(ctx)
}

// Disconnect closes the session without retrying. Subscriptions are kept
// and re-established by the next Connect.
func (h *Hub) Disconnect() {
	h.manager.Disconnect()
}

// ForceReconnect drops the session, resets the backoff, and reconnects
// immediately.
func (h *Hub) ForceReconnect() error {
	return h.manager.ForceReconnect()
}

// Shutdown stops polling and retries, removes device notifications,
// waits for the in-flight call, closes the session, and drains queued
// updates. It is terminal.
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	err := h.manager.Shutdown(ctx, func(ctx context.Context) {
		h.poller.Stop()
		if err := h.registry.RemoveAll(ctx); err != nil {
			h.debugLog("hub: notification cleanup failed", "error", err)
		}
		if err := h.serializer.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	})
	if err != nil {
		errs = append(errs, err)
	}
	// Stop is idempotent; the hook does not run if the monitor outlived ctx.
	h.poller.Stop()

	if err := h.registry.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	h.infoLog("hub: shut down", "endpoint", h.config.Endpoint.String())
	return errors.Join(errs...)
}

// State returns the connection state.
func (h *Hub) State() connection.State {
	return h.manager.State()
}

// IsConnected returns true if a session is live.
func (h *Hub) IsConnected() bool {
	return h.manager.IsConnected()
}

// Health returns the health counters.
func (h *Hub) Health() connection.Health {
	return h.manager.Health()
}

// Endpoint returns the controller endpoint.
func (h *Hub) Endpoint() transport.Endpoint {
	return h.config.Endpoint
}

// SessionID returns the capture ID of the current or last session.
func (h *Hub) SessionID() string {
	return h.capture.session()
}

// Read reads and decodes the value at address.
func (h *Hub) Read(ctx context.Context, address string, t codec.DataType, opts ...codec.Option) (any, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("read %s: %w", address, codec.ErrTypeConversion)
	}
	if !h.manager.IsConnected() {
		return nil, fmt.Errorf("read %s: %w", address, connection.ErrNotConnected)
	}

	raw, err := h.readRaw(ctx, address, t, codec.SizeOf(t, opts...))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", address, err)
	}
	v, err := codec.Decode(raw, t, opts...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", address, err)
	}
	return v, nil
}

// Write encodes value and writes it to address.
func (h *Hub) Write(ctx context.Context, address string, t codec.DataType, value any, opts ...codec.Option) error {
	raw, err := codec.Encode(value, t, opts...)
	if err != nil {
		return fmt.Errorf("write %s: %w", address, err)
	}
	if !h.manager.IsConnected() {
		return fmt.Errorf("write %s: %w", address, connection.ErrNotConnected)
	}

	op := &log.OperationEvent{Kind: log.OpWrite, Address: address, DataType: typeName(t), Size: len(raw), Data: raw}
	_, err = h.exec(ctx, op, func(ctx context.Context, sess transport.Session) ([]byte, error) {
		return nil, sess.WriteRaw(ctx, address, raw)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", address, err)
	}
	return nil
}

// ReadState reads the controller state.
func (h *Hub) ReadState(ctx context.Context) (transport.DeviceState, error) {
	if !h.manager.IsConnected() {
		return transport.DeviceState{}, connection.ErrNotConnected
	}
	var st transport.DeviceState
	_, err := h.exec(ctx, &log.OperationEvent{Kind: log.OpReadState}, func(ctx context.Context, sess transport.Session) ([]byte, error) {
		var err error
		st, err = sess.ReadState(ctx)
		return nil, err
	})
	if err != nil {
		return transport.DeviceState{}, err
	}
	return st, nil
}

// Subscribe registers spec. Values arrive through device notifications
// when spec asks for them and the controller accepts, by polling
// otherwise. Subscribing while disconnected is allowed; the subscription
// becomes active on the next connect.
func (h *Hub) Subscribe(ctx context.Context, spec subscription.Spec) (subscription.Handle, error) {
	if h.shutdown.Load() {
		return 0, connection.ErrShuttingDown
	}

	handle, err := h.registry.Subscribe(ctx, spec)
	if err != nil {
		return 0, err
	}

	if h.config.Store != nil {
		key := subscription.Key{Address: spec.Address, Type: spec.Type}
		v, at, ok, err := h.config.Store.Load(key)
		switch {
		case err != nil:
			h.debugLog("hub: load last value failed", "key", key.String(), "error", err)
		case ok:
			h.registry.Prime(handle, v, at)
		}
	}
	return handle, nil
}

// Unsubscribe removes a subscription, its device notification, and its
// poll timer.
func (h *Hub) Unsubscribe(ctx context.Context, handle subscription.Handle) error {
	if err := h.registry.Unsubscribe(ctx, handle); err != nil {
		return err
	}
	h.poller.Remove(uint64(handle))
	return nil
}

// Subscriptions returns snapshots of all subscriptions.
func (h *Hub) Subscriptions() []subscription.Info {
	return h.registry.List()
}

// LastValue returns the last value delivered for handle. The time is zero
// if no value has arrived yet.
func (h *Hub) LastValue(handle subscription.Handle) (any, time.Time, error) {
	info, err := h.registry.Get(handle)
	if err != nil {
		return nil, time.Time{}, err
	}
	return info.LastValue, info.LastUpdate, nil
}

// Available reports whether handle's value can be trusted: the session is
// live, the circuit breaker is not open, and recent reads of it succeeded.
func (h *Hub) Available(handle subscription.Handle) bool {
	if !h.manager.IsConnected() || h.breaker.State() == connection.BreakerOpen {
		return false
	}
	info, err := h.registry.Get(handle)
	if err != nil {
		return false
	}
	return info.Available()
}

// readRaw reads size bytes at address through the serializer.
func (h *Hub) readRaw(ctx context.Context, address string, t codec.DataType, size int) ([]byte, error) {
	op := &log.OperationEvent{Kind: log.OpRead, Address: address, DataType: typeName(t), Size: size}
	return h.exec(ctx, op, func(ctx context.Context, sess transport.Session) ([]byte, error) {
		return sess.ReadRaw(ctx, address, size)
	})
}

// exec runs fn through the serializer, accounts for the result, and
// records it. Bytes returned by fn are only used on success; a timed out
// call may still be running.
func (h *Hub) exec(ctx context.Context, op *log.OperationEvent, fn func(ctx context.Context, sess transport.Session) ([]byte, error)) ([]byte, error) {
	if err := h.breaker.Allow(); err != nil {
		h.capture.failure(log.LayerConnection, opContext(*op), err)
		return nil, err
	}

	var data []byte
	start := time.Now()
	err := h.serializer.Execute(ctx, h.config.OperationTimeout, func(ctx context.Context, sess transport.Session) error {
		b, err := fn(ctx, sess)
		data = b
		return err
	})
	elapsed := time.Since(start)

	h.account(ctx, err)
	h.observer.OperationCompleted(op.Kind, elapsed, err)

	op.Duration = elapsed
	op.Failed = err != nil
	if err == nil && op.Kind == log.OpRead {
		op.Data = data
	}
	h.capture.operation(*op)
	if err != nil {
		h.capture.failure(log.LayerTransport, opContext(*op), err)
		return nil, err
	}
	return data, nil
}

// account reports the outcome of a session call to the circuit breaker
// and the connection manager. Calls that never reached a session and calls
// abandoned by their caller do not count. A device error still means the
// controller answered.
func (h *Hub) account(ctx context.Context, err error) {
	switch {
	case err == nil:
		h.breaker.Success()
		h.manager.ReportSuccess()
	case errors.Is(err, serializer.ErrNoSession), errors.Is(err, serializer.ErrClosed):
		h.breaker.Release()
	case ctx.Err() != nil:
		h.breaker.Release()
	case transport.IsTimeout(err), transport.IsConnectionError(err):
		h.breaker.Failure()
		h.manager.ReportFailure(err)
	default:
		h.breaker.Success()
	}
}

func opContext(op log.OperationEvent) string {
	s := op.Kind.String()
	if op.Address != "" {
		s += " " + op.Address
	}
	return s
}

// probe is the connection health check. It bypasses failure accounting;
// the manager acts on the result directly.
func (h *Hub) probe(ctx context.Context) error {
	start := time.Now()
	err := h.serializer.Execute(ctx, h.config.OperationTimeout, func(ctx context.Context, sess transport.Session) error {
		_, err := sess.ReadState(ctx)
		return err
	})
	h.observer.OperationCompleted(log.OpReadState, time.Since(start), err)
	if err != nil {
		h.capture.failure(log.LayerConnection, "health check", err)
	}
	return err
}

func (h *Hub) handleBreakerChange(oldState, newState connection.BreakerState) {
	if newState == connection.BreakerOpen {
		h.warnLog("hub: circuit breaker open", "failures", h.breaker.Failures())
	} else {
		h.debugLog("hub: circuit breaker changed", "from", oldState.String(), "to", newState.String())
	}
	h.capture.state(log.StateEntityBreaker, oldState.String(), newState.String(), "")
}

func (h *Hub) handleStateChange(oldState, newState connection.State, reason string) {
	if newState != connection.StateConnected {
		h.poller.Sync(nil)
	}
	h.capture.state(log.StateEntityConnection, oldState.String(), newState.String(), reason)
	h.observer.StateChanged(oldState, newState, reason)
}

// handleConnected runs after every successful connect, with the session
// already bound to the serializer.
func (h *Hub) handleConnected(ctx context.Context) {
	id := h.capture.newSession()
	h.infoLog("hub: session established", "endpoint", h.config.Endpoint.String(), "session_id", id)
	h.breaker.Retry()

	res := h.registry.Attach(ctx, h.notifier)
	if len(res.Failed) > 0 {
		h.warnLog("hub: some notifications unavailable, polling instead",
			"established", res.Established, "failed", len(res.Failed), "error", res.Err)
	}
	h.syncPolling()
}

func (h *Hub) handleDisconnected() {
	h.registry.Detach()
	h.poller.Sync(nil)
}

func (h *Hub) handleUpdate(u subscription.Update) {
	h.observer.UpdateDelivered(u)
	if h.config.Store != nil {
		if err := h.config.Store.Save(u.Key, u.Value, u.Timestamp); err != nil {
			h.debugLog("hub: save last value failed", "key", u.Key.String(), "error", err)
		}
	}
}

func (h *Hub) handleDegraded(key subscription.Key, err error) {
	h.warnLog("hub: subscription degraded to polling", "key", key.String(), "error", err)
	h.capture.state(log.StateEntitySubscription, "NOTIFICATION", "POLLING", key.String()+": "+err.Error())
	h.observer.SubscriptionDegraded(key, err)
}

// syncPolling aligns poll timers with the subscriptions that need them.
// Nothing is polled while the session is down.
func (h *Hub) syncPolling() {
	if h.shutdown.Load() || !h.manager.IsConnected() {
		h.poller.Sync(nil)
		return
	}

	infos := h.registry.PollTargets()
	targets := make([]polling.Target, 0, len(infos))
	for _, info := range infos {
		targets = append(targets, polling.Target{
			ID:       uint64(info.Handle),
			Address:  info.Key.Address,
			Interval: info.PollInterval,
		})
	}
	h.poller.Sync(targets)
}

func (h *Hub) pollRead(ctx context.Context, target polling.Target) (any, error) {
	spec, ok := h.registry.Spec(subscription.Handle(target.ID))
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}
	raw, err := h.readRaw(ctx, spec.Address, spec.Type, spec.Size())
	if err != nil {
		return nil, err
	}
	return codec.Decode(raw, spec.Type, spec.CodecOptions()...)
}

func (h *Hub) pollValue(target polling.Target, value any, at time.Time) {
	h.registry.Deliver(subscription.Handle(target.ID), value, subscription.SourcePoll, at)
}

func (h *Hub) pollError(target polling.Target, err error) {
	h.registry.RecordError(subscription.Handle(target.ID), err)
}

func (h *Hub) debugLog(msg string, args ...any) {
	if h.config.Logger != nil {
		h.config.Logger.Debug(msg, args...)
	}
}

func (h *Hub) infoLog(msg string, args ...any) {
	if h.config.Logger != nil {
		h.config.Logger.Info(msg, args...)
	}
}

func (h *Hub) warnLog(msg string, args ...any) {
	if h.config.Logger != nil {
		h.config.Logger.Warn(msg, args...)
	}
}
