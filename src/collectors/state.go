// Package collectors holds the four metric collectors and the lifecycle and
// batching machinery they share.
package collectors

// State is the lifecycle position of a collector.
type State int32

const (
	// StateStopped is both the initial state and the state after Stop.
	StateStopped State = iota

	// StateStarting covers resource probing inside Start.
	StateStarting

	// StateRunning means background loops are producing samples.
	StateRunning

	// StateStopping covers loop shutdown and the final flush.
	StateStopping
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
