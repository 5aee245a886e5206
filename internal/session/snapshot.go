package session

import (
	"time"

	"github.com/kingrea/arcade/internal/faults"
	"github.com/kingrea/arcade/internal/lifecycle"
)

// Snapshot is a copy of the session context for presentation and status
// consumers.
type Snapshot struct {
	State             lifecycle.State `json:"state"`
	Phase             Phase           `json:"phase"`
	RunID             string          `json:"run_id,omitempty"`
	Difficulty        string          `json:"difficulty,omitempty"`
	Score             int             `json:"score"`
	Elapsed           time.Duration   `json:"elapsed_ns"`
	PendingExit       bool            `json:"pending_exit"`
	BeginAcknowledged bool            `json:"begin_acknowledged"`
	EndAcknowledged   bool            `json:"end_acknowledged"`
	Fault             *faults.Fault   `json:"fault,omitempty"`
}

// Snapshot captures the current session context.
func (o *Orchestrator) Snapshot() Snapshot {
	snap := Snapshot{
		State:       o.states.Current(),
		Phase:       o.phase,
		RunID:       o.runID,
		Difficulty:  o.difficulty,
		Score:       o.score,
		Elapsed:     o.elapsed,
		PendingExit: o.pendingExit,
	}
	if o.begin != nil {
		snap.BeginAcknowledged = o.begin.acked
	}
	if o.end != nil {
		snap.EndAcknowledged = o.end.acked
	}
	if fault, ok := o.faults.Last(); ok {
		snap.Fault = &fault
	}
	return snap
}
