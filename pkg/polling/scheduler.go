package polling

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Target is one value to poll.
type Target struct {
	ID       uint64
	Address  string
	Interval time.Duration
}

// ReadFunc performs one read for a target.
type ReadFunc func(ctx context.Context, target Target) (any, error)

// Config holds scheduler configuration.
type Config struct {
	// Read performs the read of a tick.
	Read ReadFunc

	// OnValue receives successful reads.
	OnValue func(target Target, value any, at time.Time)

	// OnError receives failed reads.
	OnError func(target Target, err error)

	// Immediate reads once as soon as a target starts.
	Immediate bool

	// Logger for operational events. If nil, logging is disabled.
	Logger *slog.Logger
}

// Scheduler polls targets at their own intervals.
type Scheduler struct {
	mu sync.Mutex

	config  Config
	pollers map[uint64]*poller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopped bool
}

type poller struct {
	target Target
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Polling stops when ctx is done.
func NewScheduler(ctx context.Context, config Config) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		config:  config,
		pollers: make(map[uint64]*poller),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Sync makes targets the active set.
func (s *Scheduler) Sync(targets []Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	want := make(map[uint64]Target, len(targets))
	for _, t := range targets {
		if t.Interval > 0 {
			want[t.ID] = t
		}
	}

	for id, p := range s.pollers {
		t, ok := want[id]
		if ok && t == p.target {
			delete(want, id)
			continue
		}
		p.cancel()
		delete(s.pollers, id)
	}

	for _, t := range want {
		s.startLocked(t)
	}
}

// Remove stops polling one target.
func (s *Scheduler) Remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pollers[id]; ok {
		p.cancel()
		delete(s.pollers, id)
	}
}

// Active returns the IDs currently being polled.
func (s *Scheduler) Active() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.pollers))
	for id := range s.pollers {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels every poller and waits for in-progress ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, p := range s.pollers {
		p.cancel()
		delete(s.pollers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) startLocked(t Target) {
	ctx, cancel := context.WithCancel(s.ctx)
	p := &poller{target: t, cancel: cancel}
	s.pollers[t.ID] = p

	s.wg.Add(1)
	go s.run(ctx, p)
	s.debugLog("polling: started", "address", t.Address, "interval", t.Interval)
}

func (s *Scheduler) run(ctx context.Context, p *poller) {
	defer s.wg.Done()

	if s.config.Immediate {
		s.tick(ctx, p.target)
	}

	ticker := time.NewTicker(p.target.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, p.target)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t Target) {
	if ctx.Err() != nil || s.config.Read == nil {
		return
	}

	v, err := s.config.Read(ctx, t)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.debugLog("polling: read failed", "address", t.Address, "error", err)
		if s.config.OnError != nil {
			s.config.OnError(t, err)
		}
		return
	}
	if s.config.OnValue != nil {
		s.config.OnValue(t, v, time.Now())
	}
}

func (s *Scheduler) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
