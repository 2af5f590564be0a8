package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/subscription"
	"github.com/adshub/adshub-go/pkg/transport"
)

const sample = `
controller:
  host: 192.168.1.10
  ams_net_id: 192.168.1.10.1.1
options:
  operation_timeout: 2
  health_check_interval: 500ms
  max_failures: 4
  use_notifications: false
variables:
  - name: Boiler temperature
    type: sensor
    plc_address: MAIN.temperature
    plc_type: REAL
    factor: 0.1
    precision: 1
  - name: Pump
    type: switch
    plc_address: MAIN.pump
    use_notifications: true
    cycle_time: 250ms
  - name: Mode
    type: select
    plc_address: MAIN.mode
    scan_interval: 10
    options: [off, eco, comfort]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	t.Run("Controller", func(t *testing.T) {
		assert.Equal(t, transport.Endpoint{Host: "192.168.1.10", Port: 851, NetID: "192.168.1.10.1.1"}, cfg.Endpoint())
	})

	t.Run("Options", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, cfg.Options.OperationTimeout.Std())
		assert.Equal(t, 500*time.Millisecond, cfg.Options.HealthCheckInterval.Std())
		assert.Equal(t, 4, cfg.Options.MaxFailures)
		assert.False(t, cfg.Options.UseNotifications)

		// Untouched options keep their defaults.
		assert.Equal(t, 5*time.Second, cfg.Options.ReconnectInitialDelay.Std())
		assert.Equal(t, 60*time.Second, cfg.Options.ReconnectMaxDelay.Std())
		assert.Equal(t, 5, cfg.Options.MaxConsecutiveTimeout)
	})

	t.Run("VariableTypes", func(t *testing.T) {
		require.Len(t, cfg.Variables, 3)
		assert.Equal(t, codec.TypeReal, cfg.Variables[0].DataType())
		assert.Equal(t, codec.TypeBool, cfg.Variables[1].DataType())
		assert.Equal(t, codec.TypeInt, cfg.Variables[2].DataType())
		assert.Equal(t, []string{"off", "eco", "comfort"}, cfg.Variables[2].Options)
	})

	t.Run("Spec", func(t *testing.T) {
		cb := func(subscription.Update) {}

		s := cfg.Variables[0].Spec(cfg.Options, cb)
		assert.Equal(t, "MAIN.temperature", s.Address)
		assert.False(t, s.UseNotifications)
		require.NotNil(t, s.Scaling)
		assert.Equal(t, codec.Scaling{Factor: 0.1, Precision: codec.Places(1)}, *s.Scaling)

		s = cfg.Variables[1].Spec(cfg.Options, cb)
		assert.True(t, s.UseNotifications)
		assert.Equal(t, 250*time.Millisecond, s.CycleTime)
		assert.Nil(t, s.Scaling)

		s = cfg.Variables[2].Spec(cfg.Options, cb)
		assert.Equal(t, 10*time.Second, s.PollInterval)
	})

	t.Run("HubConfig", func(t *testing.T) {
		sim := transport.NewSimulator()
		hc := cfg.HubConfig(sim)
		assert.Same(t, sim, hc.Transport)
		assert.Equal(t, cfg.Endpoint(), hc.Endpoint)
		assert.Equal(t, 2*time.Second, hc.OperationTimeout)
		assert.Equal(t, 4, hc.MaxFailures)
		assert.Equal(t, 4, hc.Breaker.FailureThreshold)
		assert.Equal(t, hc.Backoff.Max, hc.Breaker.RecoveryTimeout)
		assert.Equal(t, 5*time.Second, hc.Backoff.Initial)
		assert.Equal(t, 2.0, hc.Backoff.Multiplier)
		require.NoError(t, hc.Validate())
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"MissingHost", "controller: {ams_net_id: 1.2.3.4.1.1}"},
		{"BadHost", "controller: {host: 'not a host!', ams_net_id: 1.2.3.4.1.1}"},
		{"BadNetID", "controller: {host: plc, ams_net_id: 1.2.3.4}"},
		{"NetIDOutOfRange", "controller: {host: plc, ams_net_id: 1.2.3.4.1.256}"},
		{"BadPort", "controller: {host: plc, port: 70000, ams_net_id: 1.2.3.4.1.1}"},
		{"BadKind", `
controller: {host: plc, ams_net_id: 1.2.3.4.1.1}
variables: [{name: x, type: light, plc_address: MAIN.x}]`},
		{"BadPLCType", `
controller: {host: plc, ams_net_id: 1.2.3.4.1.1}
variables: [{name: x, type: sensor, plc_address: MAIN.x, plc_type: STRUCT}]`},
		{"ZeroFactor", `
controller: {host: plc, ams_net_id: 1.2.3.4.1.1}
variables: [{name: x, type: sensor, plc_address: MAIN.x, factor: 0}]`},
		{"MissingAddress", `
controller: {host: plc, ams_net_id: 1.2.3.4.1.1}
variables: [{name: x, type: sensor}]`},
		{"MaxBelowInitial", `
controller: {host: plc, ams_net_id: 1.2.3.4.1.1}
options: {reconnect_initial_delay: 30, reconnect_max_delay: 10}`},
		{"BadDuration", `
controller: {host: plc, ams_net_id: 1.2.3.4.1.1}
options: {operation_timeout: soon}`},
		{"NotYAML", "controller: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var le *LoadError
			assert.True(t, errors.As(err, &le))
		})
	}
}

func TestParseDuplicateVariable(t *testing.T) {
	_, err := Parse([]byte(`
controller: {host: plc, ams_net_id: 1.2.3.4.1.1}
variables:
  - {name: a, type: sensor, plc_address: MAIN.x}
  - {name: b, type: number, plc_address: MAIN.x, plc_type: REAL}
`))
	assert.ErrorIs(t, err, ErrDuplicateVariable)

	// Same address with a different type is a different value.
	_, err = Parse([]byte(`
controller: {host: plc, ams_net_id: 1.2.3.4.1.1}
variables:
  - {name: a, type: sensor, plc_address: MAIN.x}
  - {name: b, type: sensor, plc_address: MAIN.x, plc_type: DINT}
`))
	assert.NoError(t, err)
}

func TestLoad(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "adshub.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Len(t, cfg.Variables, 3)
	})

	t.Run("Missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.yaml")
		_, err := Load(path)

		var le *LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, path, le.File)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("InvalidKeepsPath", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("controller: {host: plc}"), 0o600))

		_, err := Load(path)
		var le *LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, path, le.File)
		assert.Contains(t, err.Error(), path)
	})
}

func TestValidNetID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"192.168.1.10.1.1", true},
		{"0.0.0.0.0.0", true},
		{"255.255.255.255.255.255", true},
		{"192.168.1.10.1", false},
		{"192.168.1.10.1.1.1", false},
		{"192.168.1.10.1.x", false},
		{"192.168..10.1.1", false},
		{"192.168.1.10.1.-1", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidNetID(tt.in))
		})
	}
}

func TestVariableScaling(t *testing.T) {
	two := 2.0
	places := 0

	assert.Nil(t, Variable{}.Scaling())
	assert.Equal(t, &codec.Scaling{Factor: 2}, Variable{Factor: &two}.Scaling())
	assert.Equal(t, &codec.Scaling{Factor: 1, Offset: -5}, Variable{Offset: -5}.Scaling())
	assert.Equal(t, &codec.Scaling{Factor: 1, Precision: codec.Places(0)}, Variable{Precision: &places}.Scaling())
}
