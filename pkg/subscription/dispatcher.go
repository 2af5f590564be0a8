package subscription

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the default dispatcher queue capacity.
const DefaultQueueSize = 256

type delivery struct {
	update   Update
	callback Callback
}

// Dispatcher invokes callbacks on a single goroutine in arrival order.
// Post never blocks: when the queue is full the oldest pending update is
// dropped.
type Dispatcher struct {
	mu     sync.RWMutex
	queue  chan delivery
	closed bool

	observe func(Update)

	processWg sync.WaitGroup
	running   atomic.Bool
	dropped   atomic.Uint64

	logger *slog.Logger
}

// NewDispatcher creates a dispatcher with the given queue capacity.
// observe, if set, sees every update before its callback.
func NewDispatcher(size int, observe func(Update), logger *slog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		queue:   make(chan delivery, size),
		observe: observe,
		logger:  logger,
	}
}

// Start begins delivering updates.
func (d *Dispatcher) Start() {
	if d.running.Swap(true) {
		return
	}
	d.processWg.Add(1)
	go d.processLoop()
}

// Post queues an update. It is safe to call from any goroutine.
func (d *Dispatcher) Post(u Update, cb Callback) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	item := delivery{update: u, callback: cb}
	for {
		select {
		case d.queue <- item:
			return
		default:
		}
		select {
		case old := <-d.queue:
			d.dropped.Add(1)
			d.debugLog("dispatcher: queue full, dropped update", "address", old.update.Key.Address)
		default:
		}
	}
}

// Dropped returns how many updates were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Stop delivers what is queued and stops the goroutine, or gives up when
// ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	if !d.running.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.processWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) processLoop() {
	defer d.processWg.Done()

	for item := range d.queue {
		d.deliver(item)
	}
}

func (d *Dispatcher) deliver(item delivery) {
	defer func() {
		if r := recover(); r != nil && d.logger != nil {
			d.logger.Error("dispatcher: callback panicked",
				"address", item.update.Key.Address, "panic", r)
		}
	}()

	if d.observe != nil {
		d.observe(item.update)
	}
	if item.callback != nil {
		item.callback(item.update)
	}
}

func (d *Dispatcher) debugLog(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
