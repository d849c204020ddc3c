package jobgraph

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recoverErr runs fn and returns the error it panicked with, if any.
func recoverErr(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(error)
		if !ok {
			t.Fatalf("panic value %v (%T) is not an error", r, r)
		}
		err = e
	}()
	fn()
	return nil
}

func testPool(t *testing.T, workers int) *Pool {
	t.Helper()
	p := NewPool(workers)
	t.Cleanup(func() { p.Quit() })
	return p
}

func TestJob_RunsWhenLastReferenceRemoved(t *testing.T) {
	p := testPool(t, 2)

	var ran atomic.Int32
	var j Job
	j.Initialize(p, func(*Job) { ran.Add(1) }, 3)

	j.RemoveReference()
	j.RemoveReference()
	if j.State() != StateArmed {
		t.Errorf("state after 2 of 3 removals = %s, want ARMED", j.State())
	}
	if j.RefCount() != 1 {
		t.Errorf("RefCount = %d, want 1", j.RefCount())
	}

	j.RemoveReference()
	j.Wait()

	if ran.Load() != 1 {
		t.Errorf("payload ran %d times, want 1", ran.Load())
	}
	if !j.Finished() {
		t.Error("Finished() = false after Wait")
	}
	if j.State() != StateFinished {
		t.Errorf("state = %s, want FINISHED", j.State())
	}
}

func TestJob_AddReferenceDelaysRelease(t *testing.T) {
	p := testPool(t, 1)

	var j Job
	j.Initialize(p, nil, 1)
	j.AddReference()
	j.RemoveReference()

	if j.State() != StateArmed {
		t.Fatalf("state = %s, want ARMED while a reference remains", j.State())
	}
	j.RemoveReference()
	j.Wait()
}

func TestJob_PayloadReceivesItself(t *testing.T) {
	p := testPool(t, 1)

	var j Job
	var got *Job
	j.Initialize(p, func(self *Job) { got = self }, 1)
	j.RemoveReference()
	j.Wait()

	if got != &j {
		t.Errorf("payload got %p, want %p", got, &j)
	}
}

func TestJob_ConcurrentRemoveSubmitsOnce(t *testing.T) {
	const k = 64
	for round := 0; round < 20; round++ {
		p := NewPool(4)

		var ran atomic.Int32
		var j Job
		j.Initialize(p, func(*Job) { ran.Add(1) }, k)

		var wg sync.WaitGroup
		gate := make(chan struct{})
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				j.RemoveReference()
			}()
		}
		close(gate)
		wg.Wait()
		j.Wait()
		p.Quit()

		if got := p.Stats().Submitted; got != 1 {
			t.Fatalf("round %d: submitted %d times, want 1", round, got)
		}
		if ran.Load() != 1 {
			t.Fatalf("round %d: payload ran %d times, want 1", round, ran.Load())
		}
	}
}

func TestJob_NegativeRefCountPanics(t *testing.T) {
	p := testPool(t, 1)

	var j Job
	j.Initialize(p, nil, 1)
	j.RemoveReference()
	j.Wait()

	err := recoverErr(t, j.RemoveReference)
	if !errors.Is(err, ErrNegativeRefCount) {
		t.Errorf("panic = %v, want ErrNegativeRefCount", err)
	}
}

func TestJob_InitializeValidation(t *testing.T) {
	p := testPool(t, 1)

	tests := []struct {
		name  string
		owner *Pool
		refs  int64
		want  error
	}{
		{"zero refs", p, 0, ErrInvalidRefCount},
		{"negative refs", p, -2, ErrInvalidRefCount},
		{"nil owner", nil, 1, ErrNoOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j Job
			err := recoverErr(t, func() { j.Initialize(tt.owner, nil, tt.refs) })
			if !errors.Is(err, tt.want) {
				t.Errorf("panic = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJob_ResetRearms(t *testing.T) {
	p := testPool(t, 2)

	var ran atomic.Int32
	var j Job
	j.Initialize(p, func(*Job) { ran.Add(1) }, 1)

	for cycle := 1; cycle <= 5; cycle++ {
		j.RemoveReference()
		j.Wait()
		if int(ran.Load()) != cycle {
			t.Fatalf("cycle %d: payload ran %d times", cycle, ran.Load())
		}
		j.Reset(2)
		if j.Finished() {
			t.Fatalf("cycle %d: Finished() = true after Reset", cycle)
		}
		j.RemoveReference()
	}
}

func TestJob_ResetWhileRunningPanics(t *testing.T) {
	p := testPool(t, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	var j Job
	j.Initialize(p, func(*Job) {
		close(started)
		<-release
	}, 1)
	j.RemoveReference()
	<-started

	err := recoverErr(t, func() { j.Reset(1) })
	close(release)
	j.Wait()

	if !errors.Is(err, ErrJobInFlight) {
		t.Errorf("panic = %v, want ErrJobInFlight", err)
	}
	if j.Err() != nil {
		t.Errorf("Err() = %v, want nil", j.Err())
	}
}

func TestJob_AddReferenceAfterReleasePanics(t *testing.T) {
	p := testPool(t, 1)

	var j Job
	j.Initialize(p, nil, 1)
	j.RemoveReference()
	j.Wait()

	err := recoverErr(t, j.AddReference)
	if !errors.Is(err, ErrJobInFlight) {
		t.Errorf("panic = %v, want ErrJobInFlight", err)
	}
}

func TestJob_WaitBlocksUntilFinished(t *testing.T) {
	p := testPool(t, 1)

	release := make(chan struct{})
	var j Job
	j.Initialize(p, func(*Job) { <-release }, 1)
	j.RemoveReference()

	done := make(chan struct{})
	go func() {
		j.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before payload finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after payload finished")
	}
}

func TestJob_PanicIsRecorded(t *testing.T) {
	p := testPool(t, 1)

	var j Job
	j.Initialize(p, func(*Job) { panic("boom") }, 1)
	j.RemoveReference()
	j.Wait()

	var pe *PanicError
	if !errors.As(j.Err(), &pe) {
		t.Fatalf("Err() = %v, want *PanicError", j.Err())
	}
	if pe.Value != "boom" {
		t.Errorf("panic value = %v, want boom", pe.Value)
	}
	if len(pe.Stack) == 0 {
		t.Error("expected a stack trace")
	}

	j.Reset(1)
	if j.Err() != nil {
		t.Errorf("Err() after Reset = %v, want nil", j.Err())
	}
}

func TestJobState_String(t *testing.T) {
	tests := []struct {
		state JobState
		want  string
	}{
		{StateArmed, "ARMED"},
		{StateReady, "READY"},
		{StateRunning, "RUNNING"},
		{StateFinished, "FINISHED"},
		{JobState(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("JobState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
