package orchestrator

// State is the orchestrator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateHalted
	StateFlattening
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateHalted:
		return "HALTED"
	case StateFlattening:
		return "FLATTENING"
	default:
		return "UNKNOWN"
	}
}

// Cycle terminal statuses
const (
	CycleCompleted = "completed"
	CycleAborted   = "aborted"
	CycleFlattened = "flattened"
	CycleIdle      = "idle"
)
