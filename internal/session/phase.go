package session

// Phase is the orchestrator's own workflow position, distinct from the
// application-wide lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingBeginAck
	PhaseActive
	PhaseAwaitingEndAck
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAwaitingBeginAck:
		return "AwaitingBeginAck"
	case PhaseActive:
		return "Active"
	case PhaseAwaitingEndAck:
		return "AwaitingEndAck"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// outstanding reports whether a begin or end request is in flight.
func (p Phase) outstanding() bool {
	return p == PhaseAwaitingBeginAck || p == PhaseAwaitingEndAck
}
