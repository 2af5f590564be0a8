package bindings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/config"
	"github.com/adshub/adshub-go/pkg/connection"
	"github.com/adshub/adshub-go/pkg/hub"
	"github.com/adshub/adshub-go/pkg/subscription"
	"github.com/adshub/adshub-go/pkg/transport"
)

// fakeHub records subscribe and unsubscribe calls.
type fakeHub struct {
	mu       sync.Mutex
	next     subscription.Handle
	live     map[subscription.Handle]subscription.Spec
	failAddr string
}

func newFakeHub() *fakeHub {
	return &fakeHub{live: make(map[subscription.Handle]subscription.Spec)}
}

func (f *fakeHub) Subscribe(_ context.Context, spec subscription.Spec) (subscription.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if spec.Address == f.failAddr {
		return 0, subscription.ErrResourceExhausted
	}
	f.next++
	f.live[f.next] = spec
	return f.next, nil
}

func (f *fakeHub) Unsubscribe(_ context.Context, h subscription.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[h]; !ok {
		return subscription.ErrSubscriptionNotFound
	}
	delete(f.live, h)
	return nil
}

func (f *fakeHub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeHub) spec(h subscription.Handle) subscription.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[h]
}

func parse(t *testing.T, variables string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("controller: {host: plc, ams_net_id: 1.2.3.4.1.1}\nvariables:\n" + variables))
	require.NoError(t, err)
	return cfg
}

const base = `
  - {name: temperature, type: sensor, plc_address: MAIN.temp, factor: 0.1}
  - {name: pump, type: switch, plc_address: MAIN.pump}
`

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("InitialBind", func(t *testing.T) {
		fh := newFakeHub()
		set := NewSet(SetConfig{Hub: fh})

		res, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)
		assert.Equal(t, Result{Added: 2}, res)
		assert.Equal(t, 2, fh.count())
		assert.Equal(t, 2, set.Len())

		names := []string{}
		for _, b := range set.Bindings() {
			names = append(names, b.Variable.Name)
		}
		assert.Equal(t, []string{"pump", "temperature"}, names)
	})

	t.Run("ReapplyIsNoop", func(t *testing.T) {
		fh := newFakeHub()
		set := NewSet(SetConfig{Hub: fh})
		_, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)
		before, _ := set.Lookup("pump")

		res, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)
		assert.Equal(t, Result{Unchanged: 2}, res)

		after, _ := set.Lookup("pump")
		assert.Equal(t, before.Handle, after.Handle)
	})

	t.Run("AddRemove", func(t *testing.T) {
		fh := newFakeHub()
		set := NewSet(SetConfig{Hub: fh})
		_, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)

		res, err := set.Apply(ctx, parse(t, `
  - {name: pump, type: switch, plc_address: MAIN.pump}
  - {name: mode, type: select, plc_address: MAIN.mode}
`))
		require.NoError(t, err)
		assert.Equal(t, Result{Added: 1, Removed: 1, Unchanged: 1}, res)
		assert.Equal(t, 2, fh.count())

		_, err = set.Lookup("temperature")
		assert.ErrorIs(t, err, ErrUnknownVariable)
	})

	t.Run("ScalingChangeResubscribes", func(t *testing.T) {
		fh := newFakeHub()
		set := NewSet(SetConfig{Hub: fh})
		_, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)
		before, _ := set.Lookup("temperature")

		res, err := set.Apply(ctx, parse(t, `
  - {name: temperature, type: sensor, plc_address: MAIN.temp, factor: 0.01}
  - {name: pump, type: switch, plc_address: MAIN.pump}
`))
		require.NoError(t, err)
		assert.Equal(t, Result{Updated: 1, Unchanged: 1}, res)

		after, _ := set.Lookup("temperature")
		assert.NotEqual(t, before.Handle, after.Handle)
		assert.Equal(t, 2, fh.count())
	})

	t.Run("CycleTimeChangeResubscribes", func(t *testing.T) {
		fh := newFakeHub()
		set := NewSet(SetConfig{Hub: fh})
		_, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)
		before, _ := set.Lookup("pump")

		res, err := set.Apply(ctx, parse(t, `
  - {name: temperature, type: sensor, plc_address: MAIN.temp, factor: 0.1}
  - {name: pump, type: switch, plc_address: MAIN.pump, cycle_time: 500ms}
`))
		require.NoError(t, err)
		assert.Equal(t, Result{Updated: 1, Unchanged: 1}, res)

		after, _ := set.Lookup("pump")
		assert.NotEqual(t, before.Handle, after.Handle)
		assert.Equal(t, 500*time.Millisecond, fh.spec(after.Handle).CycleTime)
	})

	t.Run("PrecisionChangeResubscribes", func(t *testing.T) {
		fh := newFakeHub()
		set := NewSet(SetConfig{Hub: fh})
		_, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)

		res, err := set.Apply(ctx, parse(t, `
  - {name: temperature, type: sensor, plc_address: MAIN.temp, factor: 0.1, precision: 0}
  - {name: pump, type: switch, plc_address: MAIN.pump}
`))
		require.NoError(t, err)
		assert.Equal(t, Result{Updated: 1, Unchanged: 1}, res)

		res, err = set.Apply(ctx, parse(t, `
  - {name: temperature, type: sensor, plc_address: MAIN.temp, factor: 0.1, precision: 0}
  - {name: pump, type: switch, plc_address: MAIN.pump}
`))
		require.NoError(t, err)
		assert.Equal(t, Result{Unchanged: 2}, res)
	})

	t.Run("RenameKeepsSubscription", func(t *testing.T) {
		fh := newFakeHub()
		set := NewSet(SetConfig{Hub: fh})
		_, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)
		before, _ := set.Lookup("pump")

		res, err := set.Apply(ctx, parse(t, `
  - {name: temperature, type: sensor, plc_address: MAIN.temp, factor: 0.1}
  - {name: circulation pump, type: switch, plc_address: MAIN.pump}
`))
		require.NoError(t, err)
		assert.Equal(t, Result{Unchanged: 2}, res)

		after, err := set.Lookup("circulation pump")
		require.NoError(t, err)
		assert.Equal(t, before.Handle, after.Handle)
	})

	t.Run("TypeChangeIsNewVariable", func(t *testing.T) {
		fh := newFakeHub()
		set := NewSet(SetConfig{Hub: fh})
		_, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)

		res, err := set.Apply(ctx, parse(t, `
  - {name: temperature, type: sensor, plc_address: MAIN.temp, plc_type: LREAL, factor: 0.1}
  - {name: pump, type: switch, plc_address: MAIN.pump}
`))
		require.NoError(t, err)
		assert.Equal(t, Result{Added: 1, Removed: 1, Unchanged: 1}, res)
	})

	t.Run("PartialFailure", func(t *testing.T) {
		fh := newFakeHub()
		fh.failAddr = "MAIN.pump"
		set := NewSet(SetConfig{Hub: fh})

		res, err := set.Apply(ctx, parse(t, base))
		assert.ErrorIs(t, err, subscription.ErrResourceExhausted)
		assert.Equal(t, Result{Added: 1}, res)

		_, err = set.Lookup("temperature")
		assert.NoError(t, err)
		_, err = set.Lookup("pump")
		assert.ErrorIs(t, err, ErrUnknownVariable)
	})

	t.Run("Close", func(t *testing.T) {
		fh := newFakeHub()
		set := NewSet(SetConfig{Hub: fh})
		_, err := set.Apply(ctx, parse(t, base))
		require.NoError(t, err)

		require.NoError(t, set.Close(ctx))
		assert.Equal(t, 0, fh.count())
		assert.Equal(t, 0, set.Len())
	})
}

func TestSetWithHub(t *testing.T) {
	sim := transport.NewSimulator()
	raw, err := codec.Encode(215, codec.TypeInt)
	require.NoError(t, err)
	sim.Define("MAIN.temp", raw)

	cfg, err := config.Parse([]byte(`
controller: {host: plc, ams_net_id: 1.2.3.4.1.1}
variables:
  - {name: temperature, type: sensor, plc_address: MAIN.temp, plc_type: INT, factor: 0.1, precision: 1, use_notifications: false}
`))
	require.NoError(t, err)

	hc := cfg.HubConfig(sim)
	hc.HealthCheckInterval = 0
	hc.Backoff = connection.BackoffConfig{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond}
	h, err := hub.New(hc)
	require.NoError(t, err)
	defer func() { _ = h.Shutdown(context.Background()) }()

	type delivery struct {
		name  string
		value any
	}
	got := make(chan delivery, 8)
	set := NewSet(SetConfig{
		Hub: h,
		OnUpdate: func(v config.Variable, u subscription.Update) {
			got <- delivery{v.Name, u.Value}
		},
	})

	_, err = set.Apply(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, h.Connect(context.Background()))

	select {
	case d := <-got:
		assert.Equal(t, "temperature", d.name)
		assert.Equal(t, 21.5, d.value)
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
	}

	b, err := set.Lookup("temperature")
	require.NoError(t, err)
	require.NoError(t, h.Write(context.Background(), b.Variable.Address, b.Variable.DataType(), 30.0, b.CodecOptions()...))

	v, ok := sim.Value("MAIN.temp")
	require.True(t, ok)
	want, _ := codec.Encode(300, codec.TypeInt)
	assert.Equal(t, want, v)

	require.NoError(t, set.Close(context.Background()))
	assert.Empty(t, h.Subscriptions())
}
