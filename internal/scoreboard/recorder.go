package scoreboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/arcade/internal/faults"
	"github.com/kingrea/arcade/internal/notify"
	"github.com/kingrea/arcade/internal/runloop"
	"github.com/kingrea/arcade/internal/session"
)

const recordTimeout = 2 * time.Second

// Logger matches logbook.Logbook's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

// GameOverSource publishes finished runs.
type GameOverSource interface {
	OnGameOver(handler func(session.GameOver)) notify.Subscription
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithLogger injects a logger.
func WithLogger(l Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// Recorder writes every game over to the store off the run loop. A failed
// write is posted back to the loop and raised as a subsystem fault.
type Recorder struct {
	store  *Store
	faults *faults.Router
	sched  runloop.Scheduler
	logger Logger
	sub    notify.Subscription

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
}

// NewRecorder subscribes to source. Close must be called to unsubscribe.
func NewRecorder(store *Store, source GameOverSource, router *faults.Router, sched runloop.Scheduler, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("scoreboard: store is required")
	}
	if source == nil || router == nil {
		return nil, fmt.Errorf("scoreboard: game-over source and fault router are required")
	}
	if sched == nil {
		return nil, fmt.Errorf("scoreboard: scheduler is required")
	}
	r := &Recorder{store: store, faults: router, sched: sched, logger: nopLogger{}}
	r.idle = sync.NewCond(&r.mu)
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.sub = source.OnGameOver(r.handle)
	return r, nil
}

// Wait blocks until every write started so far has finished.
func (r *Recorder) Wait() {
	r.mu.Lock()
	for r.inflight > 0 {
		r.idle.Wait()
	}
	r.mu.Unlock()
}

// Close stops recording and waits for in-flight writes.
func (r *Recorder) Close() {
	r.sub.Close()
	r.Wait()
}

func (r *Recorder) handle(g session.GameOver) {
	r.mu.Lock()
	r.inflight++
	r.mu.Unlock()
	go func() {
		defer r.done()
		r.record(g)
	}()
}

func (r *Recorder) record(g session.GameOver) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	err := r.store.Record(ctx, Entry{
		RunID:      g.RunID,
		Difficulty: g.Difficulty,
		Score:      g.Score,
		Elapsed:    g.Elapsed,
	})
	if err != nil {
		r.sched.Post(func() { r.faults.RaiseErr(faults.CodeSubsystemFailure, err) })
		return
	}
	r.logger.Printf("scoreboard: recorded %s score=%d", g.RunID, g.Score)
}

func (r *Recorder) done() {
	r.mu.Lock()
	r.inflight--
	if r.inflight == 0 {
		r.idle.Broadcast()
	}
	r.mu.Unlock()
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
