package session

// State is where a session is in its lifecycle.
type State int

const (
	StateAttaching State = iota // attach command outstanding
	StateAttached               // usable for invoke and subscribe
	StateDetached               // terminal, pending calls failed and listeners dropped
)

func (s State) String() string {
	switch s {
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// transitions lists the legal moves out of each state.
// Detached is terminal.
var transitions = map[State][]State{
	StateAttaching: {StateAttached, StateDetached},
	StateAttached:  {StateDetached},
	StateDetached:  {},
}

func isValidTransition(from, to State) bool {
	for _, valid := range transitions[from] {
		if to == valid {
			return true
		}
	}
	return false
}
