// Package lifecycle holds the current application state and notifies
// subscribers synchronously whenever it changes.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/kingrea/arcade/internal/notify"
)

// DefaultMaxReentryDepth bounds how many SetState calls may nest inside
// notification handlers before the registry reports a transition cycle.
const DefaultMaxReentryDepth = 8

// ErrTransitionCycle reports that nested SetState calls exceeded the
// configured depth.
var ErrTransitionCycle = errors.New("lifecycle: transition cycle detected")

// Logger records state changes. It matches logbook.Logbook's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes Registry construction.
type Option func(*Registry)

// WithLogger injects a logger for transition messages.
func WithLogger(logger Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxReentryDepth overrides DefaultMaxReentryDepth.
func WithMaxReentryDepth(depth int) Option {
	return func(r *Registry) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// Registry is the single source of truth for the current State. It must be
// driven from one goroutine (the run loop); handlers run inline.
type Registry struct {
	current  State
	gen      uint64
	hub      notify.Hub[change]
	depth    int
	maxDepth int
	cycleErr error
	logger   Logger
}

// NewRegistry constructs a registry positioned at initial. No notification
// fires for the initial state.
func NewRegistry(initial State, opts ...Option) *Registry {
	r := &Registry{
		current:  initial,
		maxDepth: DefaultMaxReentryDepth,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Current returns the current state.
func (r *Registry) Current() State {
	return r.current
}

// Is reports whether the current state equals s.
func (r *Registry) Is(s State) bool {
	return r.current == s
}

// SetState moves the registry to next and notifies every subscriber before
// returning. Setting the current state again does nothing. When handlers
// reenter SetState deeper than the configured bound, the innermost call is
// refused and the outermost call returns ErrTransitionCycle.
func (r *Registry) SetState(next State) error {
	if !next.Valid() {
		return fmt.Errorf("lifecycle: invalid state %d", int(next))
	}
	if next == r.current {
		return nil
	}
	if r.depth >= r.maxDepth {
		r.cycleErr = fmt.Errorf("%w: %s -> %s at depth %d", ErrTransitionCycle, r.current, next, r.depth)
		r.logger.Printf("lifecycle: %v", r.cycleErr)
		return r.cycleErr
	}
	previous := r.current
	r.current = next
	r.gen++
	r.logger.Printf("state: %s -> %s", previous, next)

	r.depth++
	r.hub.Publish(change{state: next, gen: r.gen})
	r.depth--

	if r.depth == 0 && r.cycleErr != nil {
		err := r.cycleErr
		r.cycleErr = nil
		return err
	}
	return nil
}

// Subscribe registers handler for state-change notifications. A handler
// that has not yet been reached when a nested SetState moves the registry
// on skips the superseded value and sees only the newer one.
func (r *Registry) Subscribe(handler func(State)) notify.Subscription {
	if handler == nil {
		return notify.Subscription{}
	}
	return r.hub.Subscribe(func(c change) {
		if c.gen != r.gen {
			return
		}
		handler(c.state)
	})
}

// Unsubscribe removes a registration returned by Subscribe.
func (r *Registry) Unsubscribe(sub notify.Subscription) {
	r.hub.Unsubscribe(sub)
}

// Subscribers reports the number of live subscriptions.
func (r *Registry) Subscribers() int {
	return r.hub.Len()
}

type change struct {
	state State
	gen   uint64
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
