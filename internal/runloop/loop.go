// Package runloop provides the single execution context every session
// component runs on. Work from other goroutines is posted onto the loop;
// a fixed-interval tick drives polling waits and the active-time clock.
package runloop

import (
	"context"
	"sync"
	"time"
)

// DefaultTickInterval is the scheduler tick used when none is configured.
const DefaultTickInterval = 100 * time.Millisecond

// Scheduler accepts work that must run on the loop.
type Scheduler interface {
	Post(fn func())
}

// TickFunc receives the time elapsed since the previous tick.
type TickFunc func(dt time.Duration)

// Option customizes Loop construction.
type Option func(*Loop)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithTickInterval overrides DefaultTickInterval.
func WithTickInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// Loop runs posted work and tick handlers on one goroutine.
type Loop struct {
	interval time.Duration
	clock    func() time.Time
	queue    Queue
	wake     chan struct{}
	tickers  []TickFunc
}

// New constructs a loop. Call Run to start it.
func New(opts ...Option) *Loop {
	l := &Loop{
		interval: DefaultTickInterval,
		clock:    time.Now,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Post schedules fn on the loop. Safe from any goroutine, including the loop.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.queue.Post(fn)
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// OnTick registers fn for every tick. Register before Run.
func (l *Loop) OnTick(fn TickFunc) {
	if fn != nil {
		l.tickers = append(l.tickers, fn)
	}
}

// Interval returns the configured tick interval.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Run drains posted work and fires ticks until ctx ends. Work still queued
// when ctx ends is discarded.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	last := l.clock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			l.queue.Drain()
		case <-ticker.C:
			l.queue.Drain()
			now := l.clock()
			dt := now.Sub(last)
			last = now
			for _, fn := range l.tickers {
				fn(dt)
			}
		}
	}
}

// Queue is a FIFO of posted work drained by hand. Loop uses it internally;
// tests use it to step the session one callback at a time.
type Queue struct {
	mu    sync.Mutex
	tasks []func()
}

// Post appends fn. Safe from any goroutine.
func (q *Queue) Post(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
}

// Drain runs queued work, including work posted while draining, and
// returns how many tasks ran.
func (q *Queue) Drain() int {
	ran := 0
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return ran
		}
		fn := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		fn()
		ran++
	}
}

// Len reports how many tasks are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
