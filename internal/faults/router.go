// Package faults routes every player-visible failure through one slot and
// forces the lifecycle into the Error state.
package faults

import (
	"strings"

	"github.com/kingrea/arcade/internal/lifecycle"
)

// Codes raised by the client itself. Remote failures carry their own codes.
const (
	CodeConnectionFailure = 1
	CodeSubsystemFailure  = 500
	CodeConnectionLost    = 503
	CodeTimeout           = 408
)

// Messages paired with the local codes above.
const (
	MessageConnectionFailure = "Connection Failure"
	MessageConnectionLost    = "Connection lost"
	MessageTimeout           = "Request timed out"
)

// Fault is one (code, message) pair.
type Fault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Logger matches logbook.Logbook's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes Router construction.
type Option func(*Router)

// WithLogger injects a logger for raised faults.
func WithLogger(logger Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// StateSetter is the part of the lifecycle registry the router drives.
type StateSetter interface {
	SetState(lifecycle.State) error
}

// Router owns the error slot. Last write wins; the slot is never cleared.
type Router struct {
	states StateSetter
	slot   Fault
	raised int
	logger Logger
}

// NewRouter wires a router to the registry it interrupts.
func NewRouter(states StateSetter, opts ...Option) *Router {
	r := &Router{states: states, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Raise overwrites the slot and forces the Error state.
func (r *Router) Raise(code int, message string) {
	r.slot = Fault{Code: code, Message: strings.TrimSpace(message)}
	r.raised++
	r.logger.Printf("fault: raised %d %q", r.slot.Code, r.slot.Message)
	if r.states == nil {
		return
	}
	if err := r.states.SetState(lifecycle.StateError); err != nil {
		r.logger.Printf("fault: enter error state: %v", err)
	}
}

// RaiseErr raises err under code, using its text as the message.
func (r *Router) RaiseErr(code int, err error) {
	if err == nil {
		return
	}
	r.Raise(code, err.Error())
}

// Last returns the most recent fault and whether one was ever raised.
func (r *Router) Last() (Fault, bool) {
	return r.slot, r.raised > 0
}

// Count reports how many faults were raised over the router's lifetime.
func (r *Router) Count() int {
	return r.raised
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
