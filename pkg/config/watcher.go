package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reloading.
const DefaultDebounce = 500 * time.Millisecond

// ErrWatcherRunning is returned by Start on a running watcher.
var ErrWatcherRunning = errors.New("config: watcher already running")

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Path is the configuration file to watch.
	Path string

	// Debounce collapses bursts of file events. Zero uses DefaultDebounce.
	Debounce time.Duration

	// OnReload receives every configuration that loaded and validated.
	OnReload func(*Config)

	// OnError receives load and watch errors. Optional.
	OnError func(error)

	// Logger for watcher events. If nil, logging is disabled.
	Logger *slog.Logger
}

// Watcher reloads a configuration file when it changes.
//
// The parent directory is watched rather than the file so that editors
// which replace the file on save are still seen.
type Watcher struct {
	config WatcherConfig
	path   string

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timer   *time.Timer
	cancel  context.CancelFunc
	stopped bool

	// reloadMu is held while a reload runs so Stop can wait for it.
	reloadMu sync.Mutex

	wg sync.WaitGroup
}

// NewWatcher creates a watcher. It does not start watching.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	return &Watcher{
		config: config,
		path:   filepath.Clean(config.Path),
	}
}

// Start begins watching. The watcher stops when ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return ErrWatcherRunning
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.stopped = false

	w.wg.Add(1)
	go w.processEvents(ctx, fsw)

	w.debugLog("config: watching", "path", w.path)
	return nil
}

// Stop stops watching and waits for a running reload to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.cancel()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	w.wg.Wait()
	_ = fsw.Close()

	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
}

func (w *Watcher) processEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.debugLog("config: file changed", "path", event.Name, "op", event.Op.String())
			w.schedule()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.fail(err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.Debounce, w.reload)
}

func (w *Watcher) reload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.fail(err)
		return
	}

	if w.config.Logger != nil {
		w.config.Logger.Info("config: reloaded", "path", w.path, "variables", len(cfg.Variables))
	}
	if w.config.OnReload != nil {
		w.config.OnReload(cfg)
	}
}

func (w *Watcher) fail(err error) {
	if w.config.Logger != nil {
		w.config.Logger.Warn("config: reload failed", "path", w.path, "error", err)
	}
	if w.config.OnError != nil {
		w.config.OnError(err)
	}
}

func (w *Watcher) debugLog(msg string, args ...any) {
	if w.config.Logger != nil {
		w.config.Logger.Debug(msg, args...)
	}
}
