package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/transport"
)

// fakeNotifier records registered handlers by notification ID.
type fakeNotifier struct {
	mu       sync.Mutex
	nextID   uint32
	handlers map[uint32]transport.NotificationHandler
	byAddr   map[string]uint32
	fail     map[string]error
	removed  []uint32
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		handlers: make(map[uint32]transport.NotificationHandler),
		byAddr:   make(map[string]uint32),
		fail:     make(map[string]error),
	}
}

func (f *fakeNotifier) AddNotification(_ context.Context, spec Spec, handler transport.NotificationHandler) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[spec.Address]; err != nil {
		return 0, err
	}
	f.nextID++
	f.handlers[f.nextID] = handler
	f.byAddr[spec.Address] = f.nextID
	return f.nextID, nil
}

func (f *fakeNotifier) RemoveNotification(_ context.Context, id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
	f.removed = append(f.removed, id)
	return nil
}

// fire invokes the handler registered for address.
func (f *fakeNotifier) fire(address string, data []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[f.byAddr[address]]
	f.mu.Unlock()
	if ok {
		h(data, time.Now())
	}
	return ok
}

func (f *fakeNotifier) handler(address string) transport.NotificationHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[f.byAddr[address]]
}

// reattachingNotifier attaches the registry again from inside its first
// AddNotification, as a reconnect racing a Subscribe does.
type reattachingNotifier struct {
	*fakeNotifier
	r    *Registry
	done atomic.Bool
}

func (n *reattachingNotifier) AddNotification(ctx context.Context, spec Spec, handler transport.NotificationHandler) (uint32, error) {
	id, err := n.fakeNotifier.AddNotification(ctx, spec, handler)
	if n.done.CompareAndSwap(false, true) {
		n.r.Attach(ctx, n)
	}
	return id, err
}

// stubNotifier is a testify mock of Notifier.
type stubNotifier struct {
	mock.Mock
}

func (s *stubNotifier) AddNotification(ctx context.Context, spec Spec, handler transport.NotificationHandler) (uint32, error) {
	args := s.Called(ctx, spec.Address, handler)
	return args.Get(0).(uint32), args.Error(1)
}

func (s *stubNotifier) RemoveNotification(ctx context.Context, id uint32) error {
	args := s.Called(ctx, id)
	return args.Error(0)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(DefaultConfig())
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

// collector gathers updates delivered to a callback.
type collector struct {
	ch chan Update
}

func newCollector() *collector {
	return &collector{ch: make(chan Update, 64)}
}

func (c *collector) callback(u Update) {
	c.ch <- u
}

func (c *collector) next(t *testing.T) Update {
	t.Helper()
	select {
	case u := <-c.ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
		return Update{}
	}
}

func (c *collector) none(t *testing.T) {
	t.Helper()
	select {
	case u := <-c.ch:
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscribe_Validation(t *testing.T) {
	r := newTestRegistry(t)
	cb := func(Update) {}

	tests := []struct {
		name string
		spec Spec
	}{
		{"EmptyAddress", Spec{Type: codec.TypeInt, Callback: cb}},
		{"UnknownType", Spec{Address: "MAIN.x", Callback: cb}},
		{"NilCallback", Spec{Address: "MAIN.x", Type: codec.TypeInt}},
		{"NegativeInterval", Spec{Address: "MAIN.x", Type: codec.TypeInt, Callback: cb, PollInterval: -time.Second}},
		{"ZeroFactor", Spec{Address: "MAIN.x", Type: codec.TypeInt, Callback: cb, Scaling: &codec.Scaling{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Subscribe(context.Background(), tt.spec)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestSubscribe_DefaultsAndDeferredNotification(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Subscribe(context.Background(), Spec{
		Address:          "MAIN.temp",
		Type:             codec.TypeReal,
		UseNotifications: true,
		Callback:         func(Update) {},
	})
	require.NoError(t, err)

	info, err := r.Get(h)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, info.PollInterval)
	assert.False(t, info.NotificationActive)
	assert.True(t, info.NeedsPolling())

	n := newFakeNotifier()
	res := r.Attach(context.Background(), n)
	assert.Equal(t, 1, res.Established)
	assert.NoError(t, res.Err)

	info, _ = r.Get(h)
	assert.True(t, info.NotificationActive)
	assert.False(t, info.NeedsPolling())
	assert.Empty(t, r.PollTargets())
}

func TestSubscribe_WhileAttachedDeliversSamples(t *testing.T) {
	r := newTestRegistry(t)
	n := newFakeNotifier()
	r.Attach(context.Background(), n)

	c := newCollector()
	h, err := r.Subscribe(context.Background(), Spec{
		Address:          "MAIN.level",
		Type:             codec.TypeInt,
		UseNotifications: true,
		Scaling:          &codec.Scaling{Factor: 0.1, Precision: codec.Places(1)},
		Callback:         c.callback,
	})
	require.NoError(t, err)

	raw, err := codec.Encode(215, codec.TypeInt)
	require.NoError(t, err)
	require.True(t, n.fire("MAIN.level", raw))

	u := c.next(t)
	assert.Equal(t, h, u.Handle)
	assert.Equal(t, 21.5, u.Value)
	assert.Equal(t, SourceNotification, u.Source)
	assert.Equal(t, Key{Address: "MAIN.level", Type: codec.TypeInt}, u.Key)

	info, _ := r.Get(h)
	assert.Equal(t, 21.5, info.LastValue)
}

func TestAttach_PartialFailureFallsBackToPolling(t *testing.T) {
	r := newTestRegistry(t)
	var degraded []Key
	r.config.OnDegraded = func(k Key, _ error) { degraded = append(degraded, k) }

	okHandle, _ := r.Subscribe(context.Background(), Spec{Address: "MAIN.a", Type: codec.TypeBool, UseNotifications: true, Callback: func(Update) {}})
	badHandle, _ := r.Subscribe(context.Background(), Spec{Address: "MAIN.b", Type: codec.TypeBool, UseNotifications: true, Callback: func(Update) {}})
	pollHandle, _ := r.Subscribe(context.Background(), Spec{Address: "MAIN.c", Type: codec.TypeBool, Callback: func(Update) {}})

	n := newFakeNotifier()
	n.fail["MAIN.b"] = &transport.DeviceError{Code: transport.CodeNotificationsExceeded}

	res := r.Attach(context.Background(), n)
	assert.Equal(t, 1, res.Established)
	assert.Equal(t, []Handle{badHandle}, res.Failed)
	assert.ErrorIs(t, res.Err, ErrSubscription)

	var subErr *Error
	require.True(t, errors.As(res.Err, &subErr))
	assert.Equal(t, "MAIN.b", subErr.Address)

	bad, _ := r.Get(badHandle)
	assert.True(t, bad.NotificationUnavailable)

	targets := r.PollTargets()
	require.Len(t, targets, 2)
	assert.Equal(t, badHandle, targets[0].Handle)
	assert.Equal(t, pollHandle, targets[1].Handle)

	good, _ := r.Get(okHandle)
	assert.True(t, good.NotificationActive)
	assert.Equal(t, []Key{{Address: "MAIN.b", Type: codec.TypeBool}}, degraded)
}

func TestSubscribe_ReattachDuringEstablish(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	n := &reattachingNotifier{fakeNotifier: newFakeNotifier(), r: r}
	r.Attach(ctx, n)

	c := newCollector()
	h, err := r.Subscribe(ctx, Spec{
		Address:          "MAIN.flow",
		Type:             codec.TypeInt,
		UseNotifications: true,
		Callback:         c.callback,
	})
	require.NoError(t, err)

	t.Run("superseded notification is removed", func(t *testing.T) {
		n.mu.Lock()
		defer n.mu.Unlock()
		assert.Len(t, n.handlers, 1)
		assert.Equal(t, []uint32{1}, n.removed)
		assert.Equal(t, uint32(2), n.byAddr["MAIN.flow"])
	})

	t.Run("current notification delivers", func(t *testing.T) {
		raw, err := codec.Encode(12, codec.TypeInt)
		require.NoError(t, err)
		require.True(t, n.fire("MAIN.flow", raw))

		u := c.next(t)
		assert.Equal(t, h, u.Handle)
		assert.Equal(t, int64(12), u.Value)
		c.none(t)
	})
}

func TestDetach_IgnoresLateSamples(t *testing.T) {
	r := newTestRegistry(t)
	n := newFakeNotifier()
	r.Attach(context.Background(), n)

	c := newCollector()
	_, err := r.Subscribe(context.Background(), Spec{Address: "MAIN.x", Type: codec.TypeByte, UseNotifications: true, Callback: c.callback})
	require.NoError(t, err)
	stale := n.handler("MAIN.x")
	require.NotNil(t, stale)

	r.Detach()
	stale([]byte{7}, time.Now())
	c.none(t)

	// Resubscription gives a fresh handler.
	r.Attach(context.Background(), n)
	stale([]byte{8}, time.Now())
	c.none(t)

	require.True(t, n.fire("MAIN.x", []byte{9}))
	assert.Equal(t, uint64(9), c.next(t).Value)
}

func TestUnsubscribe(t *testing.T) {
	r := newTestRegistry(t)
	n := &stubNotifier{}
	n.On("AddNotification", mock.Anything, "MAIN.x", mock.Anything).Return(uint32(42), nil)
	n.On("RemoveNotification", mock.Anything, uint32(42)).Return(nil)
	r.Attach(context.Background(), n)

	h, err := r.Subscribe(context.Background(), Spec{Address: "MAIN.x", Type: codec.TypeInt, UseNotifications: true, Callback: func(Update) {}})
	require.NoError(t, err)

	require.NoError(t, r.Unsubscribe(context.Background(), h))
	n.AssertCalled(t, "RemoveNotification", mock.Anything, uint32(42))
	assert.Empty(t, r.Lookup(Key{Address: "MAIN.x", Type: codec.TypeInt}))

	assert.ErrorIs(t, r.Unsubscribe(context.Background(), h), ErrSubscriptionNotFound)

	next, err := r.Subscribe(context.Background(), Spec{Address: "MAIN.x", Type: codec.TypeInt, Callback: func(Update) {}})
	require.NoError(t, err)
	assert.Greater(t, next, h)
}

func TestRecordErrorAndAvailability(t *testing.T) {
	r := newTestRegistry(t)
	n := newFakeNotifier()
	r.Attach(context.Background(), n)

	h, _ := r.Subscribe(context.Background(), Spec{Address: "MAIN.x", Type: codec.TypeDInt, UseNotifications: true, Callback: func(Update) {}})

	// Wrong sample size counts as an error.
	n.fire("MAIN.x", []byte{1, 2})
	r.RecordError(h, transport.ErrTimeout)
	info, _ := r.Get(h)
	assert.Equal(t, 2, info.ErrorCount)
	assert.True(t, info.Available())

	r.RecordError(h, transport.ErrTimeout)
	info, _ = r.Get(h)
	assert.False(t, info.Available())

	r.Deliver(h, int64(5), SourcePoll, time.Now())
	info, _ = r.Get(h)
	assert.Equal(t, 0, info.ErrorCount)
	assert.NoError(t, info.LastError)
}

func TestPrime(t *testing.T) {
	r := newTestRegistry(t)
	h, _ := r.Subscribe(context.Background(), Spec{Address: "MAIN.x", Type: codec.TypeInt, Callback: func(Update) {}})

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Prime(h, int64(3), at)
	info, _ := r.Get(h)
	assert.Equal(t, int64(3), info.LastValue)
	assert.Equal(t, at, info.LastUpdate)

	r.Deliver(h, int64(4), SourcePoll, time.Now())
	r.Prime(h, int64(3), at)
	info, _ = r.Get(h)
	assert.Equal(t, int64(4), info.LastValue)
}

func TestLookup(t *testing.T) {
	r := newTestRegistry(t)
	spec := Spec{Address: "MAIN.x", Type: codec.TypeInt, Callback: func(Update) {}}
	h1, _ := r.Subscribe(context.Background(), spec)
	h2, _ := r.Subscribe(context.Background(), spec)
	r.Subscribe(context.Background(), Spec{Address: "MAIN.x", Type: codec.TypeReal, Callback: func(Update) {}})

	assert.Equal(t, []Handle{h1, h2}, r.Lookup(spec.Key()))
	assert.Equal(t, 3, r.Count())
}

func TestRemoveAll(t *testing.T) {
	r := newTestRegistry(t)
	n := newFakeNotifier()
	r.Attach(context.Background(), n)

	for _, addr := range []string{"MAIN.a", "MAIN.b"} {
		_, err := r.Subscribe(context.Background(), Spec{Address: addr, Type: codec.TypeBool, UseNotifications: true, Callback: func(Update) {}})
		require.NoError(t, err)
	}

	require.NoError(t, r.RemoveAll(context.Background()))
	assert.ElementsMatch(t, []uint32{1, 2}, n.removed)
	assert.Equal(t, 2, r.Count())
	assert.Len(t, r.PollTargets(), 2)
}

func TestOnChange(t *testing.T) {
	r := newTestRegistry(t)
	calls := 0
	r.OnChange(func() { calls++ })

	h, _ := r.Subscribe(context.Background(), Spec{Address: "MAIN.x", Type: codec.TypeInt, Callback: func(Update) {}})
	r.Attach(context.Background(), newFakeNotifier())
	r.Detach()
	r.Unsubscribe(context.Background(), h)

	assert.Equal(t, 4, calls)
}

func TestSubscribe_AfterClose(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	require.NoError(t, r.Close(context.Background()))

	_, err := r.Subscribe(context.Background(), Spec{Address: "MAIN.x", Type: codec.TypeInt, Callback: func(Update) {}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResourceExhausted(t *testing.T) {
	r := NewRegistry(Config{MaxSubscriptions: 1})
	defer r.Close(context.Background())

	spec := Spec{Address: "MAIN.x", Type: codec.TypeInt, Callback: func(Update) {}}
	_, err := r.Subscribe(context.Background(), spec)
	require.NoError(t, err)
	_, err = r.Subscribe(context.Background(), spec)
	assert.ErrorIs(t, err, ErrResourceExhausted)
}
