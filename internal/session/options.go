package session

import (
	"github.com/kingrea/arcade/internal/bridge"
	"github.com/kingrea/arcade/internal/faults"
	"github.com/kingrea/arcade/internal/lifecycle"
	"github.com/kingrea/arcade/internal/notify"
)

// OptionsPrompt asks the remote side what the player wants after a game
// over and routes the answer: restart, continue, or end.
type OptionsPrompt struct {
	orch     *Orchestrator
	sub      notify.Subscription
	stateSub notify.Subscription
	waiting  *attempt
}

// NewOptionsPrompt subscribes the prompt to o's game-over notifications.
// Close must be called to unsubscribe.
func NewOptionsPrompt(o *Orchestrator) *OptionsPrompt {
	p := &OptionsPrompt{orch: o}
	p.sub = o.OnGameOver(p.handleGameOver)
	p.stateSub = o.states.Subscribe(func(state lifecycle.State) {
		if state == lifecycle.StateError && p.waiting != nil {
			p.waiting.abandoned = true
			p.waiting = nil
		}
	})
	return p
}

// Close unsubscribes from game-over and state notifications.
func (p *OptionsPrompt) Close() {
	p.sub.Close()
	p.stateSub.Close()
}

// Waiting reports whether a session_option request is outstanding.
func (p *OptionsPrompt) Waiting() bool {
	return p.waiting != nil
}

func (p *OptionsPrompt) handleGameOver(GameOver) {
	o := p.orch
	if p.waiting != nil {
		o.logger.Printf("session: options already requested")
		return
	}
	o.setState(lifecycle.StateLoading)
	o.seq++
	a := &attempt{id: o.seq}
	p.waiting = a
	o.logger.Printf("session: session options #%d", a.id)
	o.submit(bridge.OpSessionOption, nil, a, p.answered, p.failed)
}

func (p *OptionsPrompt) answered(a *attempt, resp bridge.Response) {
	if !p.claim(a) {
		return
	}
	o := p.orch
	var reply bridge.SessionOption
	if err := resp.Decode(&reply); err != nil {
		o.faults.RaiseErr(faults.CodeSubsystemFailure, err)
		return
	}
	action, err := bridge.ParseSessionAction(reply.Action)
	if err != nil {
		o.faults.RaiseErr(faults.CodeSubsystemFailure, err)
		return
	}
	o.logger.Printf("session: player chose %s", action)
	switch action {
	case bridge.ActionRestart:
		err = o.RequestEnd(false)
	case bridge.ActionContinue:
		err = o.ContinueSession()
	case bridge.ActionEnd, bridge.ActionCancel:
		err = o.RequestEnd(true)
	}
	if err != nil {
		o.logger.Printf("session: apply %s: %v", action, err)
	}
}

func (p *OptionsPrompt) failed(a *attempt, code int, message string) {
	if !p.claim(a) {
		return
	}
	p.orch.faults.Raise(code, message)
}

// claim reports whether the answer belongs to the request still awaited
// and the session is still where the prompt left it.
func (p *OptionsPrompt) claim(a *attempt) bool {
	o := p.orch
	a.acked = true
	if p.waiting != a {
		o.logger.Printf("session: stale session option #%d dropped", a.id)
		return false
	}
	p.waiting = nil
	if o.phase != PhaseActive || !o.states.Is(lifecycle.StateLoading) {
		o.logger.Printf("session: session option #%d arrived after an interrupt", a.id)
		return false
	}
	return true
}
