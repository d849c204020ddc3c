package model

// RunState represents the lifecycle state of a Run.
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
	RunStateCancelled RunState = "CANCELLED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known run states.
func (s RunState) IsValid() bool {
	switch s {
	case RunStateRunning, RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	}
	return false
}

// CanTransitionTo returns true if moving from the current state to next is valid.
// Only a running run can change state.
func (s RunState) CanTransitionTo(next RunState) bool {
	return s == RunStateRunning && next.IsTerminal()
}
