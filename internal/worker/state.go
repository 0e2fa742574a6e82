package worker

// State is a worker's position in its lifecycle:
// Idle -> Fetching -> Recording -> Idle, and any state -> Cancelled.
type State int32

// Worker states.
const (
	StateIdle State = iota
	StateFetching
	StateRecording
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateRecording:
		return "recording"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
