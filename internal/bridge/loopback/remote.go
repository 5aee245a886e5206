// Package loopback is an in-process stand-in for the remote service. Tests
// hold requests and resolve them by hand; offline mode answers them from a
// script after a fixed latency.
package loopback

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kingrea/arcade/internal/bridge"
)

// Reply scripts the answer for one operation.
type Reply struct {
	Payload any
	Code    int
	Message string
	// Drop leaves the request unanswered forever.
	Drop bool
}

// Failed reports whether the reply rejects the operation.
func (r Reply) Failed() bool {
	return r.Code != 0
}

// Exit records one hand-off call.
type Exit struct {
	WithError bool
	Code      int
	Message   string
}

// Option customizes Remote construction.
type Option func(*Remote)

// WithScript makes Submit answer operation automatically.
func WithScript(operation string, reply Reply) Option {
	return func(r *Remote) {
		r.script[operation] = reply
	}
}

// WithLatency delays scripted answers.
func WithLatency(d time.Duration) Option {
	return func(r *Remote) {
		if d >= 0 {
			r.latency = d
		}
	}
}

// WithConnectError makes Connect fail.
func WithConnectError(err error) Option {
	return func(r *Remote) {
		r.connectErr = err
	}
}

// Remote implements bridge.Bridge, bridge.Handoff and bridge.Connector.
type Remote struct {
	mu         sync.Mutex
	pending    []*Pending
	submitted  []string
	script     map[string]Reply
	latency    time.Duration
	connectErr error
	connected  bool
	exits      []Exit
}

// New constructs a remote with no scripted answers.
func New(opts ...Option) *Remote {
	r := &Remote{script: map[string]Reply{}}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Pending is one unanswered request.
type Pending struct {
	Operation string
	Payload   json.RawMessage

	once      sync.Once
	onSuccess bridge.SuccessFunc
	onFailure bridge.FailureFunc
	remote    *Remote
}

// Succeed answers the request. Later answers are ignored.
func (p *Pending) Succeed(payload any) {
	p.once.Do(func() {
		p.remote.forget(p)
		raw, _ := json.Marshal(payload)
		if payload == nil {
			raw = nil
		}
		if p.onSuccess != nil {
			p.onSuccess(bridge.Response{Payload: raw})
		}
	})
}

// Fail rejects the request. Later answers are ignored.
func (p *Pending) Fail(code int, message string) {
	p.once.Do(func() {
		p.remote.forget(p)
		if p.onFailure != nil {
			p.onFailure(code, message)
		}
	})
}

// Connect satisfies bridge.Connector.
func (r *Remote) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return r.connectErr
	}
	r.connected = true
	return nil
}

// Connected reports whether Connect succeeded.
func (r *Remote) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Submit satisfies bridge.Bridge.
func (r *Remote) Submit(operation string, payload any, onSuccess bridge.SuccessFunc, onFailure bridge.FailureFunc) {
	raw, err := json.Marshal(payload)
	if err != nil {
		if onFailure != nil {
			onFailure(400, err.Error())
		}
		return
	}
	p := &Pending{
		Operation: operation,
		Payload:   raw,
		onSuccess: onSuccess,
		onFailure: onFailure,
		remote:    r,
	}
	r.mu.Lock()
	r.pending = append(r.pending, p)
	r.submitted = append(r.submitted, operation)
	reply, scripted := r.script[operation]
	latency := r.latency
	r.mu.Unlock()
	if !scripted || reply.Drop {
		return
	}
	answer := func() {
		if reply.Failed() {
			p.Fail(reply.Code, reply.Message)
			return
		}
		p.Succeed(reply.Payload)
	}
	if latency == 0 {
		answer()
		return
	}
	time.AfterFunc(latency, answer)
}

// Pending returns unanswered requests in submission order.
func (r *Remote) Pending() []*Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Pending, len(r.pending))
	copy(out, r.pending)
	return out
}

// Next returns the oldest unanswered request for operation.
func (r *Remote) Next(operation string) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pending {
		if p.Operation == operation {
			return p, true
		}
	}
	return nil, false
}

// Submitted lists every operation name in submission order.
func (r *Remote) Submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.submitted))
	copy(out, r.submitted)
	return out
}

// ReturnToSystem satisfies bridge.Handoff.
func (r *Remote) ReturnToSystem() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, Exit{})
}

// ReturnToSystemWithError satisfies bridge.Handoff.
func (r *Remote) ReturnToSystemWithError(code int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, Exit{WithError: true, Code: code, Message: message})
}

// Exits returns every recorded hand-off.
func (r *Remote) Exits() []Exit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Exit, len(r.exits))
	copy(out, r.exits)
	return out
}

func (r *Remote) forget(target *Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pending {
		if p == target {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}
