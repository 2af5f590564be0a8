// Package bindings keeps the hub's subscriptions in line with the
// variables of a configuration.
//
// Variables are keyed by controller address and type. Applying a new
// configuration subscribes variables that appeared, unsubscribes those
// that disappeared, and resubscribes those whose sampling or scaling
// changed. Variables that only changed name or presentation keep their
// subscription and last value.
package bindings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/config"
	"github.com/adshub/adshub-go/pkg/subscription"
)

// ErrUnknownVariable is returned when a name is not bound.
var ErrUnknownVariable = errors.New("unknown variable")

// Subscriber is the part of the hub the set needs.
type Subscriber interface {
	Subscribe(ctx context.Context, spec subscription.Spec) (subscription.Handle, error)
	Unsubscribe(ctx context.Context, handle subscription.Handle) error
}

// Binding is a variable with its live subscription.
type Binding struct {
	Variable config.Variable
	Handle   subscription.Handle
	spec     subscription.Spec
}

// CodecOptions returns the conversion options for reads and writes of the
// variable.
func (b Binding) CodecOptions() []codec.Option {
	return b.spec.CodecOptions()
}

// UpdateFunc receives updates together with the variable they belong to.
type UpdateFunc func(v config.Variable, u subscription.Update)

// Result counts the changes made by Apply.
type Result struct {
	Added     int
	Removed   int
	Updated   int
	Unchanged int
}

func (r Result) String() string {
	return fmt.Sprintf("added=%d removed=%d updated=%d unchanged=%d", r.Added, r.Removed, r.Updated, r.Unchanged)
}

// SetConfig configures a Set.
type SetConfig struct {
	// Hub creates and removes subscriptions.
	Hub Subscriber

	// OnUpdate receives every update of a bound variable. Optional.
	OnUpdate UpdateFunc

	// Logger for reconcile events. If nil, logging is disabled.
	Logger *slog.Logger
}

// Set tracks the bound variables of one hub.
type Set struct {
	config SetConfig

	// applyMu serializes Apply and Close.
	applyMu sync.Mutex

	mu       sync.RWMutex
	bindings map[subscription.Key]*Binding
}

// NewSet creates an empty set.
func NewSet(config SetConfig) *Set {
	return &Set{
		config:   config,
		bindings: make(map[subscription.Key]*Binding),
	}
}

// Apply reconciles the bound variables with cfg. Failures on single
// variables do not stop the others; they are joined into the returned
// error and the failed variables are left unbound.
func (s *Set) Apply(ctx context.Context, cfg *config.Config) (Result, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	var (
		res  Result
		errs []error
	)

	want := make(map[subscription.Key]config.Variable, len(cfg.Variables))
	for _, v := range cfg.Variables {
		want[v.Key()] = v
	}

	s.mu.RLock()
	current := make(map[subscription.Key]*Binding, len(s.bindings))
	for k, b := range s.bindings {
		current[k] = b
	}
	s.mu.RUnlock()

	for key, b := range current {
		if _, ok := want[key]; ok {
			continue
		}
		if err := s.config.Hub.Unsubscribe(ctx, b.Handle); err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
			errs = append(errs, fmt.Errorf("unbind %s: %w", b.Variable.Name, err))
			continue
		}
		s.remove(key)
		res.Removed++
		s.debugLog("bindings: removed", "variable", b.Variable.Name, "key", key.String())
	}

	for _, key := range sortedKeys(want) {
		v := want[key]
		spec := v.Spec(cfg.Options, s.callback(key))

		b, bound := current[key]
		switch {
		case bound && sameSampling(b.spec, spec):
			s.mu.Lock()
			b.Variable = v
			s.mu.Unlock()
			res.Unchanged++
			continue

		case bound:
			if err := s.config.Hub.Unsubscribe(ctx, b.Handle); err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
				errs = append(errs, fmt.Errorf("rebind %s: %w", v.Name, err))
				continue
			}
			s.remove(key)
		}

		handle, err := s.config.Hub.Subscribe(ctx, spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("bind %s: %w", v.Name, err))
			continue
		}

		s.mu.Lock()
		s.bindings[key] = &Binding{Variable: v, Handle: handle, spec: spec}
		s.mu.Unlock()

		if bound {
			res.Updated++
		} else {
			res.Added++
		}
		s.debugLog("bindings: bound", "variable", v.Name, "key", key.String(), "handle", uint64(handle))
	}

	if s.config.Logger != nil {
		s.config.Logger.Info("bindings: applied", "result", res.String())
	}
	return res, errors.Join(errs...)
}

// Close unsubscribes every bound variable.
func (s *Set) Close(ctx context.Context) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	bound := s.bindings
	s.bindings = make(map[subscription.Key]*Binding)
	s.mu.Unlock()

	var errs []error
	for _, b := range bound {
		if err := s.config.Hub.Unsubscribe(ctx, b.Handle); err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
			errs = append(errs, fmt.Errorf("unbind %s: %w", b.Variable.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Bindings returns the bound variables ordered by name.
func (s *Set) Bindings() []Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Variable.Name < out[j].Variable.Name
	})
	return out
}

// Lookup finds a binding by variable name.
func (s *Set) Lookup(name string) (Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.bindings {
		if b.Variable.Name == name {
			return *b, nil
		}
	}
	return Binding{}, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
}

// Len returns the number of bound variables.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings)
}

func (s *Set) remove(key subscription.Key) {
	s.mu.Lock()
	delete(s.bindings, key)
	s.mu.Unlock()
}

// callback resolves the variable at delivery time so renames take effect
// without resubscribing.
func (s *Set) callback(key subscription.Key) subscription.Callback {
	return func(u subscription.Update) {
		if s.config.OnUpdate == nil {
			return
		}
		s.mu.RLock()
		b, ok := s.bindings[key]
		var v config.Variable
		if ok {
			v = b.Variable
		}
		s.mu.RUnlock()
		if ok {
			s.config.OnUpdate(v, u)
		}
	}
}

// sameSampling reports whether two specs read the same value the same way.
func sameSampling(a, b subscription.Spec) bool {
	if a.PollInterval != b.PollInterval || a.UseNotifications != b.UseNotifications ||
		a.CycleTime != b.CycleTime || a.StringLength != b.StringLength {
		return false
	}
	switch {
	case a.Scaling == nil && b.Scaling == nil:
		return true
	case a.Scaling == nil || b.Scaling == nil:
		return false
	default:
		return a.Scaling.Equal(*b.Scaling)
	}
}

func sortedKeys(m map[subscription.Key]config.Variable) []subscription.Key {
	keys := make([]subscription.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

func (s *Set) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
