package model

import (
	"strings"
	"testing"
)

func TestRunState_IsTerminal(t *testing.T) {
	tests := []struct {
		state RunState
		want  bool
	}{
		{RunStateRunning, false},
		{RunStateCompleted, true},
		{RunStateFailed, true},
		{RunStateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestRunState_IsValid(t *testing.T) {
	for _, s := range []RunState{RunStateRunning, RunStateCompleted, RunStateFailed, RunStateCancelled} {
		if !s.IsValid() {
			t.Errorf("%s.IsValid() = false", s)
		}
	}
	for _, s := range []RunState{"", "PAUSED", "running"} {
		if s.IsValid() {
			t.Errorf("%q.IsValid() = true", s)
		}
	}
}

func TestRunState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to RunState
		want     bool
	}{
		{RunStateRunning, RunStateCompleted, true},
		{RunStateRunning, RunStateFailed, true},
		{RunStateRunning, RunStateCancelled, true},
		{RunStateRunning, RunStateRunning, false},
		{RunStateCompleted, RunStateFailed, false},
		{RunStateFailed, RunStateRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s → %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{ID: "run_1", From: RunStateCompleted, To: RunStateFailed}
	if !strings.Contains(err.Error(), "COMPLETED → FAILED") {
		t.Errorf("Error() = %q", err.Error())
	}
}
