package pageagent

// State is the selection state machine's position. Transitions are guarded
// in the agent loop; there is no terminal state, the machine is reusable.
type State int

const (
	// StateIdle: no overlay, no listeners.
	StateIdle State = iota
	// StateArmed: overlay visible, hover tracking active.
	StateArmed
	// StateResolving: target frozen, extraction done, feedback window open.
	StateResolving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateResolving:
		return "resolving"
	default:
		return "unknown"
	}
}
