package session

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kingrea/arcade/internal/bridge"
	"github.com/kingrea/arcade/internal/bridge/loopback"
	"github.com/kingrea/arcade/internal/faults"
	"github.com/kingrea/arcade/internal/lifecycle"
	"github.com/kingrea/arcade/internal/runloop"
)

type harness struct {
	states *lifecycle.Registry
	faults *faults.Router
	remote *loopback.Remote
	queue  *runloop.Queue
	orch   *Orchestrator
	seen   []lifecycle.State
}

func newHarness(t *testing.T, remoteOpts ...loopback.Option) *harness {
	t.Helper()
	h := &harness{
		states: lifecycle.NewRegistry(lifecycle.StateLoading),
		remote: loopback.New(remoteOpts...),
		queue:  &runloop.Queue{},
	}
	h.faults = faults.NewRouter(h.states)
	h.states.Subscribe(func(s lifecycle.State) { h.seen = append(h.seen, s) })
	orch, err := New(Dependencies{
		States:    h.states,
		Faults:    h.faults,
		Bridge:    h.remote,
		Handoff:   h.remote,
		Scheduler: h.queue,
		Connector: h.remote,
	}, WithRunIDGenerator(func() string { return "run-1" }))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(orch.Close)
	h.orch = orch
	return h
}

func (h *harness) boot(t *testing.T) {
	t.Helper()
	if err := h.orch.Boot(context.Background()); err != nil {
		t.Fatalf("boot: %v", err)
	}
	h.queue.Drain()
	if h.states.Current() != lifecycle.StateMainMenu {
		t.Fatalf("boot should land on MainMenu, got %s", h.states.Current())
	}
	h.seen = nil
}

func (h *harness) tick(dt time.Duration) {
	h.queue.Drain()
	h.orch.Tick(dt)
	h.queue.Drain()
}

func (h *harness) answer(t *testing.T, op string) {
	t.Helper()
	p, ok := h.remote.Next(op)
	if !ok {
		t.Fatalf("no pending %s request", op)
	}
	p.Succeed(nil)
	h.queue.Drain()
}

func (h *harness) reject(t *testing.T, op string, code int, message string) {
	t.Helper()
	p, ok := h.remote.Next(op)
	if !ok {
		t.Fatalf("no pending %s request", op)
	}
	p.Fail(code, message)
	h.queue.Drain()
}

func (h *harness) startActive(t *testing.T) {
	t.Helper()
	h.boot(t)
	if err := h.orch.StartSession("Easy"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	h.answer(t, bridge.OpLevelBegin)
	h.tick(time.Millisecond)
	if h.states.Current() != lifecycle.StateInGame {
		t.Fatalf("expected InGame after begin ack, got %s", h.states.Current())
	}
	h.seen = nil
}

func TestStartSessionPassesThroughLoading(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	if err := h.orch.StartSession("Medium"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.orch.Phase() != PhaseAwaitingBeginAck {
		t.Fatalf("phase = %s, want AwaitingBeginAck", h.orch.Phase())
	}
	h.tick(time.Second)
	if h.states.Current() != lifecycle.StateLoading {
		t.Fatalf("must wait in Loading until acknowledged, got %s", h.states.Current())
	}
	p, ok := h.remote.Next(bridge.OpLevelBegin)
	if !ok {
		t.Fatalf("expected level_begin request")
	}
	if string(p.Payload) != `{"level":0,"difficulty":"Medium"}` {
		t.Fatalf("payload = %s", p.Payload)
	}
	h.answer(t, bridge.OpLevelBegin)
	if !h.orch.Snapshot().BeginAcknowledged {
		t.Fatalf("begin should be acknowledged")
	}
	h.tick(time.Millisecond)
	want := []lifecycle.State{lifecycle.StateLoading, lifecycle.StateInGame}
	if !reflect.DeepEqual(h.seen, want) {
		t.Fatalf("states = %v, want %v", h.seen, want)
	}
	if h.orch.Phase() != PhaseActive {
		t.Fatalf("phase = %s, want Active", h.orch.Phase())
	}
}

func TestBeginFailureRaisesFault(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	_ = h.orch.StartSession("Easy")
	h.reject(t, bridge.OpLevelBegin, 500, "boom")
	fault, ok := h.faults.Last()
	if !ok || fault.Code != 500 || fault.Message != "boom" {
		t.Fatalf("fault = %+v (%v), want (500, boom)", fault, ok)
	}
	if h.states.Current() != lifecycle.StateError {
		t.Fatalf("state = %s, want Error", h.states.Current())
	}
	if h.orch.Phase() != PhaseFailed {
		t.Fatalf("phase = %s, want Failed", h.orch.Phase())
	}
	want := []lifecycle.State{lifecycle.StateLoading, lifecycle.StateError}
	if !reflect.DeepEqual(h.seen, want) {
		t.Fatalf("states = %v, want %v", h.seen, want)
	}
	if got := h.remote.Submitted(); len(got) != 1 {
		t.Fatalf("begin failure must not retry, submitted %v", got)
	}
}

func TestRestartKeepsScoreThroughFreshBegin(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)
	h.orch.AddScore(40)
	h.orch.AddScore(2)
	if err := h.orch.RequestEnd(false); err != nil {
		t.Fatalf("request end: %v", err)
	}
	p, _ := h.remote.Next(bridge.OpLevelEnd)
	if string(p.Payload) != `{"level":0,"score":42}` {
		t.Fatalf("payload = %s", p.Payload)
	}
	h.answer(t, bridge.OpLevelEnd)
	h.tick(time.Millisecond)
	if h.orch.Phase() != PhaseAwaitingBeginAck {
		t.Fatalf("phase = %s, want AwaitingBeginAck", h.orch.Phase())
	}
	h.answer(t, bridge.OpLevelBegin)
	h.tick(time.Millisecond)
	want := []lifecycle.State{lifecycle.StateLoading, lifecycle.StateInGame}
	if !reflect.DeepEqual(h.seen, want) {
		t.Fatalf("states = %v, want %v", h.seen, want)
	}
	if h.orch.CurrentScore() != 42 {
		t.Fatalf("score = %d, want 42", h.orch.CurrentScore())
	}
	wantOps := []string{bridge.OpLevelBegin, bridge.OpLevelEnd, bridge.OpLevelBegin}
	if got := h.remote.Submitted(); !reflect.DeepEqual(got, wantOps) {
		t.Fatalf("submitted = %v, want %v", got, wantOps)
	}
	if len(h.remote.Exits()) != 0 {
		t.Fatalf("restart must not hand off")
	}
}

func TestEndTimeoutRaisesAndExitsOnce(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)
	if err := h.orch.RequestEnd(false); err != nil {
		t.Fatalf("request end: %v", err)
	}
	for i := 0; i < 9; i++ {
		h.tick(time.Second)
	}
	if _, raised := h.faults.Last(); raised {
		t.Fatalf("deadline fired early")
	}
	h.tick(time.Second)
	fault, _ := h.faults.Last()
	if fault.Code != faults.CodeTimeout || fault.Message != faults.MessageTimeout {
		t.Fatalf("fault = %+v, want timeout", fault)
	}
	for i := 0; i < 5; i++ {
		h.tick(time.Second)
	}
	exits := h.remote.Exits()
	if len(exits) != 1 || exits[0].WithError {
		t.Fatalf("exits = %+v, want one plain hand-off", exits)
	}
	if h.states.Current() != lifecycle.StateError {
		t.Fatalf("state = %s, want Error", h.states.Current())
	}
	h.answer(t, bridge.OpLevelEnd)
	h.tick(time.Second)
	if len(h.remote.Exits()) != 1 || len(h.remote.Submitted()) != 2 {
		t.Fatalf("late acknowledgement must not act: exits=%v submitted=%v", h.remote.Exits(), h.remote.Submitted())
	}
	if !h.orch.Snapshot().EndAcknowledged {
		t.Fatalf("late acknowledgement should still flip the flag")
	}
}

func TestEndDeadlineUsesTickTime(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)
	_ = h.orch.RequestEnd(true)
	h.tick(6 * time.Second)
	h.tick(3 * time.Second)
	if _, raised := h.faults.Last(); raised {
		t.Fatalf("9s of tick time must not time out")
	}
	h.tick(time.Second)
	if _, raised := h.faults.Last(); !raised {
		t.Fatalf("10s of tick time should time out")
	}
}

func TestEndSuccessWithExitHandsOff(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)
	_ = h.orch.RequestEnd(true)
	h.answer(t, bridge.OpLevelEnd)
	h.tick(time.Millisecond)
	if h.orch.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want Idle", h.orch.Phase())
	}
	if len(h.remote.Exits()) != 1 {
		t.Fatalf("expected one hand-off, got %v", h.remote.Exits())
	}
	if !h.orch.Snapshot().PendingExit {
		t.Fatalf("pending exit should be recorded")
	}
}

func TestEndFailureRaisesAndUnblocksDeadline(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)
	_ = h.orch.RequestEnd(false)
	h.reject(t, bridge.OpLevelEnd, 409, "save rejected")
	fault, _ := h.faults.Last()
	if fault.Code != 409 {
		t.Fatalf("fault = %+v", fault)
	}
	if !h.orch.Snapshot().EndAcknowledged {
		t.Fatalf("failure must acknowledge the end request")
	}
	for i := 0; i < 12; i++ {
		h.tick(time.Second)
	}
	if fault, _ := h.faults.Last(); fault.Code != 409 {
		t.Fatalf("deadline must not fire after a failure, got %+v", fault)
	}
	if len(h.remote.Exits()) != 0 {
		t.Fatalf("end failure must not hand off")
	}
}

func TestTriggerGameOverOutsideGameIsNoop(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	published := 0
	h.orch.OnGameOver(func(GameOver) { published++ })
	err := h.orch.TriggerGameOver()
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if h.states.Current() != lifecycle.StateMainMenu || len(h.seen) != 0 || published != 0 {
		t.Fatalf("game over from MainMenu changed something: state=%s seen=%v published=%d", h.states.Current(), h.seen, published)
	}
	if _, raised := h.faults.Last(); raised {
		t.Fatalf("rejections are not faults")
	}
}

func TestTriggerGameOverPublishesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)
	h.orch.AddScore(7)
	h.tick(2 * time.Second)
	var got GameOver
	h.orch.OnGameOver(func(g GameOver) { got = g })
	if err := h.orch.TriggerGameOver(); err != nil {
		t.Fatalf("game over: %v", err)
	}
	if h.states.Current() != lifecycle.StateGameOver {
		t.Fatalf("state = %s", h.states.Current())
	}
	if got.Score != 7 || got.Difficulty != "Easy" || got.RunID != "run-1" || got.Elapsed < 2*time.Second {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestContinueKeepsScoreFreshStartResets(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)
	h.orch.AddScore(15)
	h.tick(3 * time.Second)
	_ = h.orch.TriggerGameOver()
	if err := h.orch.ContinueSession(); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if h.states.Current() != lifecycle.StateInGame {
		t.Fatalf("state = %s, want InGame", h.states.Current())
	}
	if h.orch.CurrentScore() != 15 || h.orch.ElapsedActiveTime() < 3*time.Second {
		t.Fatalf("continue reset the context: score=%d elapsed=%s", h.orch.CurrentScore(), h.orch.ElapsedActiveTime())
	}
	if len(h.remote.Submitted()) != 1 {
		t.Fatalf("continue must not hit the network")
	}

	_ = h.orch.RequestEnd(true)
	h.answer(t, bridge.OpLevelEnd)
	h.tick(time.Millisecond)
	if err := h.orch.StartSession("Hard"); err != nil {
		t.Fatalf("fresh start: %v", err)
	}
	h.answer(t, bridge.OpLevelBegin)
	h.tick(time.Millisecond)
	if h.orch.CurrentScore() != 0 {
		t.Fatalf("fresh start should reset score, got %d", h.orch.CurrentScore())
	}
}

func TestElapsedOnlyAccruesInGame(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	h.tick(time.Second)
	if h.orch.ElapsedActiveTime() != 0 {
		t.Fatalf("menu time counted")
	}
	_ = h.orch.StartSession("Easy")
	h.answer(t, bridge.OpLevelBegin)
	h.tick(time.Second)
	h.tick(time.Second)
	_ = h.orch.TriggerGameOver()
	frozen := h.orch.ElapsedActiveTime()
	h.tick(5 * time.Second)
	if h.orch.ElapsedActiveTime() != frozen {
		t.Fatalf("elapsed moved outside InGame: %s -> %s", frozen, h.orch.ElapsedActiveTime())
	}
	if frozen != time.Second {
		t.Fatalf("elapsed = %s, want 1s", frozen)
	}
}

func TestSecondStartWhileOutstandingIsRejected(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	_ = h.orch.StartSession("Easy")
	if err := h.orch.StartSession("Hard"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if got := h.remote.Submitted(); len(got) != 1 {
		t.Fatalf("submitted = %v, want one begin", got)
	}
	if h.orch.Snapshot().Difficulty != "Easy" {
		t.Fatalf("rejected start changed difficulty")
	}
}

func TestRequestEndOutsideActiveIsRejected(t *testing.T) {
	h := newHarness(t)
	if err := h.orch.RequestEnd(true); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	h.startActive(t)
	_ = h.orch.RequestEnd(false)
	if err := h.orch.RequestEnd(true); !errors.Is(err, ErrRejected) {
		t.Fatalf("second end while outstanding should be rejected, got %v", err)
	}
	if h.orch.Snapshot().PendingExit {
		t.Fatalf("rejected end changed pending exit")
	}
}

func TestInterruptDuringBeginDropsLateSuccess(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	_ = h.orch.StartSession("Easy")
	h.faults.Raise(12, "profile save failed")
	if h.orch.Phase() != PhaseFailed {
		t.Fatalf("phase = %s, want Failed", h.orch.Phase())
	}
	h.answer(t, bridge.OpLevelBegin)
	h.tick(time.Second)
	if h.states.Current() != lifecycle.StateError {
		t.Fatalf("late begin success left Error: %s", h.states.Current())
	}
	if !h.orch.Snapshot().BeginAcknowledged {
		t.Fatalf("late callback should still acknowledge")
	}
}

func TestInterruptDuringEndWaitSuppressesRestart(t *testing.T) {
	h := newHarness(t)
	h.startActive(t)
	_ = h.orch.RequestEnd(false)
	h.faults.Raise(3, "achievement sync failed")
	h.reject(t, bridge.OpLevelEnd, 500, "late failure")
	for i := 0; i < 15; i++ {
		h.tick(time.Second)
	}
	fault, _ := h.faults.Last()
	if fault.Code != 3 {
		t.Fatalf("late failure overwrote the slot: %+v", fault)
	}
	if len(h.remote.Submitted()) != 2 || len(h.remote.Exits()) != 0 {
		t.Fatalf("interrupted end must stay inert: submitted=%v exits=%v", h.remote.Submitted(), h.remote.Exits())
	}
}

func TestMainMenuRecoversFromFailure(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	_ = h.orch.StartSession("Easy")
	h.reject(t, bridge.OpLevelBegin, 500, "boom")
	if err := h.orch.StartSession("Easy"); !errors.Is(err, ErrRejected) {
		t.Fatalf("start from Failed should be rejected, got %v", err)
	}
	if err := h.orch.ReturnToMainMenu(); err != nil {
		t.Fatalf("main menu: %v", err)
	}
	if h.orch.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want Idle", h.orch.Phase())
	}
	if err := h.orch.StartSession("Easy"); err != nil {
		t.Fatalf("start after recovery: %v", err)
	}
}

func TestBootFailureRaisesConnectionFault(t *testing.T) {
	h := newHarness(t, loopback.WithConnectError(errors.New("refused")))
	if err := h.orch.Boot(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	h.queue.Drain()
	fault, _ := h.faults.Last()
	if fault.Code != faults.CodeConnectionFailure || fault.Message != faults.MessageConnectionFailure {
		t.Fatalf("fault = %+v", fault)
	}
	if h.states.Current() != lifecycle.StateError {
		t.Fatalf("state = %s", h.states.Current())
	}
}

func TestCloseDifficultySelectSettlesOnMainMenu(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	if err := h.orch.OpenDifficultySelect(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := h.orch.CloseDifficultySelect(); err != nil {
		t.Fatalf("close: %v", err)
	}
	want := []lifecycle.State{lifecycle.StateDifficultySelectOpen, lifecycle.StateDifficultySelectClose, lifecycle.StateMainMenu}
	if !reflect.DeepEqual(h.seen, want) {
		t.Fatalf("states = %v, want %v", h.seen, want)
	}
	if h.states.Current() != lifecycle.StateMainMenu {
		t.Fatalf("state = %s, want MainMenu", h.states.Current())
	}
}

func TestExitWithErrorForwardsSlot(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	h.faults.Raise(408, "Request timed out")
	h.orch.ExitWithError()
	exits := h.remote.Exits()
	if len(exits) != 1 || !exits[0].WithError || exits[0].Code != 408 || exits[0].Message != "Request timed out" {
		t.Fatalf("exits = %+v", exits)
	}
}

func TestTimesUpAndQuitHandOff(t *testing.T) {
	h := newHarness(t)
	h.boot(t)
	h.orch.TimesUp()
	if err := h.orch.RequestQuit(); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if h.states.Current() != lifecycle.StateExiting {
		t.Fatalf("state = %s, want Exiting", h.states.Current())
	}
	if len(h.remote.Exits()) != 2 || h.orch.Exits() != 2 {
		t.Fatalf("exits = %v", h.remote.Exits())
	}
}

func TestAddScoreNeverNegative(t *testing.T) {
	h := newHarness(t)
	h.orch.AddScore(3)
	h.orch.AddScore(-10)
	if h.orch.CurrentScore() != 0 {
		t.Fatalf("score = %d, want 0", h.orch.CurrentScore())
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestCloseUnsubscribesFromRegistry(t *testing.T) {
	h := newHarness(t)
	before := h.states.Subscribers()
	h.orch.Close()
	if h.states.Subscribers() != before-1 {
		t.Fatalf("subscribers = %d, want %d", h.states.Subscribers(), before-1)
	}
}
