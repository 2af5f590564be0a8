package commands

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/config"
	"github.com/adshub/adshub-go/pkg/log"
	"github.com/adshub/adshub-go/pkg/transport"
)

const testConfig = `
controller:
  host: 10.0.0.5
  ams_net_id: 5.80.201.232.1.1
options:
  use_notifications: false
variables:
  - name: Boiler temperature
    type: sensor
    plc_address: MAIN.temperature
    scan_interval: 100ms
    unit_of_measurement: °C
  - name: Setpoint
    type: number
    plc_address: MAIN.setpoint
    plc_type: INT
    factor: 0.1
    scan_interval: 100ms
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adshub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func realBytes(v float32) []byte {
	return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))
}

// execute runs the root command with a factory returning sim.
func execute(t *testing.T, sim *transport.Simulator, args ...string) (string, error) {
	t.Helper()
	var factory TransportFactory
	if sim != nil {
		factory = func(*config.Config) (transport.Transport, error) { return sim, nil }
	}

	var out bytes.Buffer
	root := NewRootCommand(BuildInfo{Version: "test"}, factory)
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestReadCommand(t *testing.T) {
	controller := []string{"--host", "10.0.0.5", "--ams-net-id", "5.80.201.232.1.1"}

	t.Run("Value", func(t *testing.T) {
		sim := transport.NewSimulator()
		sim.Define("MAIN.temperature", realBytes(21.5))

		out, err := execute(t, sim, append([]string{"read", "MAIN.temperature"}, controller...)...)
		require.NoError(t, err)
		assert.Equal(t, "MAIN.temperature (REAL) = 21.5\n", out)
	})

	t.Run("JSON", func(t *testing.T) {
		sim := transport.NewSimulator()
		sim.Define("MAIN.count", []byte{0x2a, 0x00})

		out, err := execute(t, sim, append([]string{"read", "MAIN.count", "-t", "INT", "--json"}, controller...)...)
		require.NoError(t, err)

		var r readResult
		require.NoError(t, json.Unmarshal([]byte(out), &r))
		assert.Equal(t, "MAIN.count", r.Address)
		assert.Equal(t, "INT", r.Type)
		assert.EqualValues(t, 42, r.Value)
	})

	t.Run("Scaled", func(t *testing.T) {
		sim := transport.NewSimulator()
		sim.Define("MAIN.level", []byte{0xd7, 0x00})

		out, err := execute(t, sim, append([]string{"read", "MAIN.level", "-t", "INT", "--factor", "0.1", "--precision", "1"}, controller...)...)
		require.NoError(t, err)
		assert.Equal(t, "MAIN.level (INT) = 21.5\n", out)
	})

	t.Run("Simulated", func(t *testing.T) {
		out, err := execute(t, nil, append([]string{"read", "MAIN.anything", "-t", "BOOL", "--simulate"}, controller...)...)
		require.NoError(t, err)
		assert.Equal(t, "MAIN.anything (BOOL) = false\n", out)
	})

	t.Run("NoTransport", func(t *testing.T) {
		_, err := execute(t, nil, append([]string{"read", "MAIN.temperature"}, controller...)...)
		assert.ErrorIs(t, err, ErrNoTransport)
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := execute(t, transport.NewSimulator(), append([]string{"read", "MAIN.x", "-t", "QUATERNION"}, controller...)...)
		assert.Error(t, err)
	})

	t.Run("ZeroFactor", func(t *testing.T) {
		_, err := execute(t, transport.NewSimulator(), append([]string{"read", "MAIN.x", "--factor", "0"}, controller...)...)
		assert.ErrorContains(t, err, "factor")
	})

	t.Run("MissingController", func(t *testing.T) {
		_, err := execute(t, transport.NewSimulator(), "read", "MAIN.x")
		assert.ErrorContains(t, err, "controller flags")
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		_, err := execute(t, transport.NewSimulator(), append([]string{"read", "MAIN.x", "--log-level", "loud"}, controller...)...)
		assert.ErrorContains(t, err, "invalid log level")
	})
}

func TestWriteCommand(t *testing.T) {
	cfgPath := writeConfig(t, testConfig)

	t.Run("Scaled", func(t *testing.T) {
		sim := transport.NewSimulator()
		out, err := execute(t, sim, "write", "MAIN.setpoint", "30", "-t", "INT", "--factor", "0.1", "-c", cfgPath)
		require.NoError(t, err)
		assert.Equal(t, "MAIN.setpoint = 30\n", out)

		raw, ok := sim.Value("MAIN.setpoint")
		require.True(t, ok)
		assert.Equal(t, []byte{0x2c, 0x01}, raw)
	})

	t.Run("String", func(t *testing.T) {
		sim := transport.NewSimulator()
		_, err := execute(t, sim, "write", "MAIN.label", "pump-1", "-t", "STRING", "--string-length", "16", "-c", cfgPath)
		require.NoError(t, err)

		raw, ok := sim.Value("MAIN.label")
		require.True(t, ok)
		assert.Equal(t, "pump-1", strings.TrimRight(string(raw), "\x00"))
	})

	t.Run("OutOfRange", func(t *testing.T) {
		_, err := execute(t, transport.NewSimulator(), "write", "MAIN.setpoint", "70000", "-t", "INT", "-c", cfgPath)
		var convErr *codec.ConversionError
		assert.ErrorAs(t, err, &convErr)
	})
}

func TestValidateCommand(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		out, err := execute(t, nil, "validate", "-c", writeConfig(t, testConfig))
		require.NoError(t, err)
		assert.Contains(t, out, "Controller: ")
		assert.Contains(t, out, "Variables:  2")
		assert.Contains(t, out, "Boiler temperature")
		assert.Contains(t, out, "polling every 100ms")
	})

	t.Run("Notifications", func(t *testing.T) {
		cfg := strings.Replace(testConfig, "use_notifications: false", "use_notifications: true", 1)
		out, err := execute(t, nil, "validate", "-c", writeConfig(t, cfg))
		require.NoError(t, err)
		assert.Contains(t, out, "notifications")
	})

	t.Run("Invalid", func(t *testing.T) {
		cfg := strings.Replace(testConfig, "plc_type: INT", "plc_type: COMPLEX", 1)
		_, err := execute(t, nil, "validate", "-c", writeConfig(t, cfg))
		var le *config.LoadError
		assert.ErrorAs(t, err, &le)
	})

	t.Run("RequiresConfig", func(t *testing.T) {
		_, err := execute(t, nil, "validate")
		assert.ErrorContains(t, err, "--config")
	})
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := execute(t, transport.NewSimulator(), "run")
	assert.ErrorContains(t, err, "--config")
}

func TestRunHub(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, testConfig)
	capture := filepath.Join(dir, "run.alog")
	store := filepath.Join(dir, "values.db")

	sim := transport.NewSimulator()
	sim.Define("MAIN.temperature", realBytes(19.5))
	sim.Define("MAIN.setpoint", []byte{0xd2, 0x00})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := executeContext(ctx, sim, "run", "-c", cfgPath, "--capture", capture, "--store", store, "--watch=false")
		done <- err
	}()

	require.Eventually(t, func() bool {
		stats, err := collectStats(capture)
		return err == nil && stats.EventsByOp[log.OpRead] >= 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}

	stats, err := collectStats(capture)
	require.NoError(t, err)
	assert.Positive(t, stats.EventsByCategory[log.CategoryState], "state changes captured")
	assert.Contains(t, stats.Addresses, "MAIN.temperature")
}

func executeContext(ctx context.Context, sim *transport.Simulator, args ...string) (string, error) {
	var out bytes.Buffer
	root := NewRootCommand(BuildInfo{}, func(*config.Config) (transport.Transport, error) { return sim, nil })
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}
