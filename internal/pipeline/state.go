package pipeline

// State is the lifecycle state of a [Pipeline].
type State int32

const (
	// StateIdle means Run has not been called.
	StateIdle State = iota

	// StateRunning means all stages are up.
	StateRunning

	// StateStopping means shutdown was requested or a stage failed fatally
	// and the stages are draining.
	StateStopping

	// StateStopped means Run has returned.
	StateStopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
