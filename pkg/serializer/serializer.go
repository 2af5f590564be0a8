package serializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adshub/adshub-go/pkg/transport"
)

// Serializer errors.
var (
	ErrNoSession = fmt.Errorf("%w: no live session", transport.ErrConnection)
	ErrClosed    = errors.New("serializer closed")
)

// Operation is a unit of work against the bound session.
type Operation func(ctx context.Context, sess transport.Session) error

// Serializer is a FIFO lock around the bound session.
type Serializer struct {
	mu sync.Mutex

	// Bound session, nil while disconnected
	session transport.Session

	// Lock state
	busy    bool
	waiters []chan struct{}

	// Shutdown
	closed  bool
	drained chan struct{}

	logger *slog.Logger
}

// New creates a serializer with no bound session.
func New(logger *slog.Logger) *Serializer {
	return &Serializer{logger: logger}
}

// Bind makes sess the target of subsequent operations.
func (s *Serializer) Bind(sess transport.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

// Unbind detaches the current session and returns it.
// Operations that already hold the lock keep their reference.
func (s *Serializer) Unbind() transport.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session
	s.session = nil
	return sess
}

// Bound reports whether a session is bound.
func (s *Serializer) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// Pending returns the number of queued callers, excluding the holder.
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Execute runs op against the bound session once every earlier caller has
// finished. timeout bounds the wait plus the call; zero means ctx alone.
func (s *Serializer) Execute(ctx context.Context, timeout time.Duration, op Operation) error {
	opCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	if err := s.acquire(opCtx); err != nil {
		cancel()
		return s.contextError(ctx, err)
	}

	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		s.release()
		cancel()
		return ErrNoSession
	}

	done := make(chan error, 1)
	go func() {
		defer s.release()
		defer cancel()
		done <- op(opCtx, sess)
	}()

	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		select {
		case err := <-done:
			return err
		default:
		}
		s.debugLog("serializer: caller abandoned in-flight operation", "error", opCtx.Err())
		return s.contextError(ctx, opCtx.Err())
	}
}

// Close rejects new operations and waits until queued and in-flight
// operations have finished or ctx is done.
func (s *Serializer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if !s.busy {
		s.mu.Unlock()
		return nil
	}
	if s.drained == nil {
		s.drained = make(chan struct{})
	}
	drained := s.drained
	s.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire blocks until the caller owns the lock.
func (s *Serializer) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.busy {
		s.busy = true
		s.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, other := range s.waiters {
			if other == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// Ownership was handed over concurrently; pass it on.
		s.release()
		return ctx.Err()
	}
}

// release hands the lock to the oldest waiter.
func (s *Serializer) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(w)
		return
	}
	s.busy = false
	if s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
}

// contextError maps an expired operation deadline to a transport timeout
// while passing through caller cancellation and ErrClosed.
func (s *Serializer) contextError(parent context.Context, err error) error {
	if errors.Is(err, ErrClosed) {
		return err
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", transport.ErrTimeout, err)
	}
	return err
}

func (s *Serializer) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
