// Package session drives a game session through begin and end exchanges with
// the remote service. Every method runs on the run loop; bridge callbacks are
// posted back onto it before they touch session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/arcade/internal/bridge"
	"github.com/kingrea/arcade/internal/faults"
	"github.com/kingrea/arcade/internal/lifecycle"
	"github.com/kingrea/arcade/internal/notify"
	"github.com/kingrea/arcade/internal/runloop"
)

const (
	// DefaultEndAckTimeout is how long the end exchange may stay
	// unanswered, in accumulated tick time, before the session is abandoned.
	DefaultEndAckTimeout = 10 * time.Second

	// sessionLevel tags every begin/end request.
	sessionLevel = 0
)

// ErrRejected is returned for requests that do not fit the current phase.
// It marks a caller sequencing bug and is never raised as a fault.
var ErrRejected = errors.New("session: request rejected")

// Logger matches logbook.Logbook's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

// Dependencies are the collaborators an Orchestrator is wired to.
type Dependencies struct {
	States    *lifecycle.Registry
	Faults    *faults.Router
	Bridge    bridge.Bridge
	Handoff   bridge.Handoff
	Scheduler runloop.Scheduler
	// Connector is optional; Boot skips the connection step without it.
	Connector bridge.Connector
}

// Option customizes Orchestrator construction.
type Option func(*Orchestrator)

// WithLogger injects a logger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEndAckTimeout overrides DefaultEndAckTimeout.
func WithEndAckTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.endTimeout = d
		}
	}
}

// WithRunIDGenerator overrides run id generation (tests).
func WithRunIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newRunID = fn
		}
	}
}

// attempt tracks one begin or end request. Callbacks always flip acked;
// only the attempt the orchestrator still waits on may act on the outcome.
type attempt struct {
	id        uint64
	acked     bool
	succeeded bool
	abandoned bool
}

// GameOver is published when a running game ends.
type GameOver struct {
	RunID      string
	Difficulty string
	Score      int
	Elapsed    time.Duration
}

// Orchestrator is the session state machine.
type Orchestrator struct {
	states    *lifecycle.Registry
	faults    *faults.Router
	bridge    bridge.Bridge
	handoff   bridge.Handoff
	sched     runloop.Scheduler
	connector bridge.Connector
	logger    Logger

	endTimeout time.Duration
	newRunID   func() string

	phase        Phase
	score        int
	elapsed      time.Duration
	difficulty   string
	runID        string
	pendingExit  bool
	continueNext bool

	seq     uint64
	begin   *attempt
	end     *attempt
	endWait time.Duration
	exits   int

	gameOver notify.Hub[GameOver]
	stateSub notify.Subscription
}

// New wires an orchestrator and subscribes it to the lifecycle registry.
// Close releases the subscription.
func New(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.States == nil:
		return nil, fmt.Errorf("session: lifecycle registry is required")
	case deps.Faults == nil:
		return nil, fmt.Errorf("session: fault router is required")
	case deps.Bridge == nil:
		return nil, fmt.Errorf("session: bridge is required")
	case deps.Handoff == nil:
		return nil, fmt.Errorf("session: hand-off is required")
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("session: scheduler is required")
	}
	o := &Orchestrator{
		states:     deps.States,
		faults:     deps.Faults,
		bridge:     deps.Bridge,
		handoff:    deps.Handoff,
		sched:      deps.Scheduler,
		connector:  deps.Connector,
		logger:     nopLogger{},
		endTimeout: DefaultEndAckTimeout,
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.stateSub = o.states.Subscribe(o.handleStateChanged)
	return o, nil
}

// Close unsubscribes from the lifecycle registry.
func (o *Orchestrator) Close() {
	o.states.Unsubscribe(o.stateSub)
}

// Boot connects the transport and opens the main menu. Connect runs on the
// calling goroutine; the outcome is applied on the run loop.
func (o *Orchestrator) Boot(ctx context.Context) error {
	var err error
	if o.connector != nil {
		err = o.connector.Connect(ctx)
	}
	o.sched.Post(func() {
		if err != nil {
			o.logger.Printf("session: connect: %v", err)
			o.faults.Raise(faults.CodeConnectionFailure, faults.MessageConnectionFailure)
			return
		}
		o.setState(lifecycle.StateMainMenu)
	})
	return err
}

// StartSession begins a fresh session at difficulty.
func (o *Orchestrator) StartSession(difficulty string) error {
	if o.phase != PhaseIdle {
		return o.reject("start session", "phase %s", o.phase)
	}
	o.difficulty = strings.TrimSpace(difficulty)
	o.runID = o.newRunID()
	o.continueNext = false
	o.pendingExit = false
	o.logger.Printf("session: start %s (%s)", o.difficulty, o.runID)
	return o.beginWorkflow()
}

// RequestEnd reports the session score. wantsToExit hands control back to
// the host afterwards; otherwise a new begin exchange keeps the score.
func (o *Orchestrator) RequestEnd(wantsToExit bool) error {
	if o.phase != PhaseActive {
		return o.reject("request end", "phase %s", o.phase)
	}
	o.pendingExit = wantsToExit
	if err := o.states.SetState(lifecycle.StateLoading); err != nil {
		return err
	}
	o.seq++
	a := &attempt{id: o.seq}
	o.end = a
	o.endWait = 0
	o.phase = PhaseAwaitingEndAck
	o.logger.Printf("session: end #%d score=%d exit=%t", a.id, o.score, wantsToExit)
	o.submit(bridge.OpLevelEnd, bridge.LevelEnd{Level: sessionLevel, Score: o.score}, a, o.endSucceeded, o.endFailed)
	return nil
}

// TriggerGameOver ends play while InGame and notifies game-over listeners.
func (o *Orchestrator) TriggerGameOver() error {
	if !o.states.Is(lifecycle.StateInGame) {
		return o.reject("game over", "state %s", o.states.Current())
	}
	snapshot := GameOver{
		RunID:      o.runID,
		Difficulty: o.difficulty,
		Score:      o.score,
		Elapsed:    o.elapsed,
	}
	if err := o.states.SetState(lifecycle.StateGameOver); err != nil {
		return err
	}
	o.gameOver.Publish(snapshot)
	return nil
}

// ContinueSession resumes play without a network round trip, keeping the
// score and active time.
func (o *Orchestrator) ContinueSession() error {
	if o.phase != PhaseActive || o.states.Is(lifecycle.StateInGame) {
		return o.reject("continue", "phase %s state %s", o.phase, o.states.Current())
	}
	o.continueNext = true
	return o.states.SetState(lifecycle.StateInGame)
}

// AddScore adds delta to the session score. The score never drops below zero.
func (o *Orchestrator) AddScore(delta int) {
	o.score += delta
	if o.score < 0 {
		o.score = 0
	}
}

// CurrentScore returns the accumulated score.
func (o *Orchestrator) CurrentScore() int {
	return o.score
}

// ElapsedActiveTime returns time spent InGame during this session.
func (o *Orchestrator) ElapsedActiveTime() time.Duration {
	return o.elapsed
}

// Phase returns the workflow phase.
func (o *Orchestrator) Phase() Phase {
	return o.phase
}

// OnGameOver registers a game-over listener.
func (o *Orchestrator) OnGameOver(handler func(GameOver)) notify.Subscription {
	return o.gameOver.Subscribe(handler)
}

// Tick advances the active-time clock and polls outstanding waits. dt is
// the time since the previous tick.
func (o *Orchestrator) Tick(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}
	if o.states.Is(lifecycle.StateInGame) {
		o.elapsed += dt
	}
	switch o.phase {
	case PhaseAwaitingBeginAck:
		if o.begin != nil && o.begin.acked && o.begin.succeeded {
			o.phase = PhaseActive
			o.setState(lifecycle.StateInGame)
		}
	case PhaseAwaitingEndAck:
		if o.end != nil && o.end.acked {
			o.finishEnd()
			return
		}
		o.endWait += dt
		if o.endWait >= o.endTimeout {
			o.timeoutEnd()
		}
	}
}

// TimesUp reacts to the inactivity signal by leaving session management.
func (o *Orchestrator) TimesUp() {
	o.logger.Printf("session: inactivity timeout")
	o.exit()
}

// RequestQuit leaves through the Exiting state.
func (o *Orchestrator) RequestQuit() error {
	if o.phase.outstanding() {
		return o.reject("quit", "phase %s", o.phase)
	}
	o.setState(lifecycle.StateExiting)
	o.exit()
	return nil
}

// ExitWithError hands the last fault back to the host.
func (o *Orchestrator) ExitWithError() {
	fault, _ := o.faults.Last()
	o.exits++
	o.logger.Printf("session: return to system with error %d", fault.Code)
	o.handoff.ReturnToSystemWithError(fault.Code, fault.Message)
}

// OpenDifficultySelect shows the difficulty picker.
func (o *Orchestrator) OpenDifficultySelect() error {
	return o.navigate(lifecycle.StateDifficultySelectOpen)
}

// CloseDifficultySelect hides the picker; the registry settles on MainMenu.
func (o *Orchestrator) CloseDifficultySelect() error {
	return o.navigate(lifecycle.StateDifficultySelectClose)
}

// ShowLeaderboard opens the leaderboard screen.
func (o *Orchestrator) ShowLeaderboard() error {
	return o.navigate(lifecycle.StateLeaderboard)
}

// ShowAchievements opens the achievements screen.
func (o *Orchestrator) ShowAchievements() error {
	return o.navigate(lifecycle.StateAchievements)
}

// ReturnToMainMenu opens the main menu. From Error this is the only way
// back, and it resets the workflow to Idle.
func (o *Orchestrator) ReturnToMainMenu() error {
	if o.phase != PhaseIdle && o.phase != PhaseFailed {
		return o.reject("main menu", "phase %s", o.phase)
	}
	return o.states.SetState(lifecycle.StateMainMenu)
}

// Exits reports how many hand-off calls were made.
func (o *Orchestrator) Exits() int {
	return o.exits
}

func (o *Orchestrator) navigate(target lifecycle.State) error {
	if o.phase != PhaseIdle {
		return o.reject("navigate to "+target.String(), "phase %s", o.phase)
	}
	return o.states.SetState(target)
}

func (o *Orchestrator) beginWorkflow() error {
	if err := o.states.SetState(lifecycle.StateLoading); err != nil {
		return err
	}
	o.seq++
	a := &attempt{id: o.seq}
	o.begin = a
	o.phase = PhaseAwaitingBeginAck
	o.logger.Printf("session: begin #%d", a.id)
	o.submit(bridge.OpLevelBegin, bridge.LevelBegin{Level: sessionLevel, Difficulty: o.difficulty}, a, o.beginSucceeded, o.beginFailed)
	return nil
}

func (o *Orchestrator) beginSucceeded(a *attempt, _ bridge.Response) {
	if o.stale(a, o.begin, PhaseAwaitingBeginAck) {
		return
	}
	a.succeeded = true
}

func (o *Orchestrator) beginFailed(a *attempt, code int, message string) {
	if o.stale(a, o.begin, PhaseAwaitingBeginAck) {
		return
	}
	o.phase = PhaseFailed
	o.faults.Raise(code, message)
}

func (o *Orchestrator) endSucceeded(a *attempt, _ bridge.Response) {
	if o.stale(a, o.end, PhaseAwaitingEndAck) {
		return
	}
	a.succeeded = true
}

func (o *Orchestrator) endFailed(a *attempt, code int, message string) {
	if o.stale(a, o.end, PhaseAwaitingEndAck) {
		return
	}
	o.phase = PhaseFailed
	o.faults.Raise(code, message)
}

func (o *Orchestrator) finishEnd() {
	if o.pendingExit {
		o.phase = PhaseIdle
		o.exit()
		return
	}
	o.continueNext = true
	if err := o.beginWorkflow(); err != nil {
		o.logger.Printf("session: restart: %v", err)
	}
}

func (o *Orchestrator) timeoutEnd() {
	o.logger.Printf("session: end #%d timed out after %s", o.end.id, o.endWait)
	o.end.abandoned = true
	o.phase = PhaseFailed
	o.faults.Raise(faults.CodeTimeout, faults.MessageTimeout)
	o.exit()
}

func (o *Orchestrator) exit() {
	o.exits++
	o.logger.Printf("session: return to system")
	o.handoff.ReturnToSystem()
}

// stale flips the acknowledgement flag and reports whether the callback
// arrived too late to act on.
func (o *Orchestrator) stale(a, current *attempt, waiting Phase) bool {
	if a.acked {
		o.logger.Printf("session: duplicate callback for #%d ignored", a.id)
		return true
	}
	a.acked = true
	if a.abandoned || a != current || o.phase != waiting {
		o.logger.Printf("session: stale callback for #%d dropped", a.id)
		return true
	}
	return false
}

func (o *Orchestrator) submit(op string, payload any, a *attempt, onSuccess func(*attempt, bridge.Response), onFailure func(*attempt, int, string)) {
	o.bridge.Submit(op, payload,
		func(resp bridge.Response) {
			o.sched.Post(func() { onSuccess(a, resp) })
		},
		func(code int, message string) {
			o.sched.Post(func() { onFailure(a, code, message) })
		},
	)
}

func (o *Orchestrator) handleStateChanged(state lifecycle.State) {
	switch state {
	case lifecycle.StateInGame:
		if !o.continueNext {
			o.score = 0
			o.elapsed = 0
		}
		o.continueNext = false
	case lifecycle.StateError:
		if o.phase == PhaseIdle || o.phase == PhaseFailed {
			return
		}
		o.abandon()
		o.phase = PhaseFailed
	case lifecycle.StateMainMenu:
		if o.phase == PhaseFailed {
			o.phase = PhaseIdle
		}
	case lifecycle.StateDifficultySelectClose:
		o.setState(lifecycle.StateMainMenu)
	}
}

func (o *Orchestrator) abandon() {
	if o.begin != nil && !o.begin.acked {
		o.begin.abandoned = true
	}
	if o.end != nil && !o.end.acked {
		o.end.abandoned = true
	}
}

func (o *Orchestrator) setState(state lifecycle.State) {
	if err := o.states.SetState(state); err != nil {
		o.logger.Printf("session: set state %s: %v", state, err)
	}
}

func (o *Orchestrator) reject(action, format string, args ...any) error {
	err := fmt.Errorf("%w: %s in %s", ErrRejected, action, fmt.Sprintf(format, args...))
	o.logger.Printf("session: %v", err)
	return err
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
