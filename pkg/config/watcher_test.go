package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = "controller: {host: plc, ams_net_id: 1.2.3.4.1.1}\n"

func startWatcher(t *testing.T, path string) (*Watcher, chan *Config, chan error) {
	t.Helper()

	reloads := make(chan *Config, 8)
	errs := make(chan error, 8)
	w := NewWatcher(WatcherConfig{
		Path:     path,
		Debounce: 20 * time.Millisecond,
		OnReload: func(c *Config) { reloads <- c },
		OnError:  func(err error) { errs <- err },
	})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, reloads, errs
}

func TestWatcher(t *testing.T) {
	t.Run("ReloadOnWrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "adshub.yaml")
		require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
		_, reloads, _ := startWatcher(t, path)

		updated := minimal + "variables: [{name: t, type: sensor, plc_address: MAIN.t}]\n"
		require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

		select {
		case cfg := <-reloads:
			require.Len(t, cfg.Variables, 1)
			assert.Equal(t, "MAIN.t", cfg.Variables[0].Address)
		case <-time.After(2 * time.Second):
			t.Fatal("no reload")
		}
	})

	t.Run("InvalidFileReportsError", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "adshub.yaml")
		require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
		_, reloads, errs := startWatcher(t, path)

		require.NoError(t, os.WriteFile(path, []byte("controller: {host: plc}\n"), 0o600))

		select {
		case err := <-errs:
			var le *LoadError
			assert.ErrorAs(t, err, &le)
		case <-reloads:
			t.Fatal("invalid file was accepted")
		case <-time.After(2 * time.Second):
			t.Fatal("no error reported")
		}
	})

	t.Run("IgnoresOtherFiles", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "adshub.yaml")
		require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
		_, reloads, _ := startWatcher(t, path)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(minimal), 0o600))

		select {
		case <-reloads:
			t.Fatal("reloaded for an unrelated file")
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("CreatedByRename", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "adshub.yaml")
		require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
		_, reloads, _ := startWatcher(t, path)

		tmp := filepath.Join(dir, ".adshub.yaml.swp")
		require.NoError(t, os.WriteFile(tmp, []byte(minimal+"options: {max_failures: 9}\n"), 0o600))
		require.NoError(t, os.Rename(tmp, path))

		select {
		case cfg := <-reloads:
			assert.Equal(t, 9, cfg.Options.MaxFailures)
		case <-time.After(2 * time.Second):
			t.Fatal("no reload")
		}
	})

	t.Run("StartTwice", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "adshub.yaml")
		require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
		w, _, _ := startWatcher(t, path)

		assert.ErrorIs(t, w.Start(context.Background()), ErrWatcherRunning)
	})

	t.Run("StopIsIdempotent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "adshub.yaml")
		require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
		w, _, _ := startWatcher(t, path)

		w.Stop()
		w.Stop()
	})
}
