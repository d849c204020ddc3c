// Package jobgraph is a small reference-counted job scheduler.
//
// A Job becomes ready when its reference count drops to zero; the goroutine
// that performs the final RemoveReference hands it to the owning Pool, whose
// fixed set of workers execute ready jobs in FIFO order. A DependencyJob
// releases one reference on another Job after it finishes, which is enough to
// express fan-out and fan-in. ChunkedDispatch builds the common shape on top
// of that: one start job fanning out into N chunk jobs that all feed a single
// end job, rearmed on every Begin.
//
//	pool := jobgraph.NewPool(8)
//	defer pool.Quit()
//
//	d := jobgraph.NewChunkedDispatch(pool)
//	for step := 0; step < steps; step++ {
//		d.Begin(len(chunks), func(i int) { integrate(chunks[i]) }, nil)
//		d.Wait()
//	}
//
// Misuse of the reference-count protocol (a count going negative, rearming a
// job that is still queued or running, a dependency job without a dependent)
// panics with an error wrapping one of the Err* sentinels. Panics raised by
// payloads are recovered and stored on the job, see Job.Err.
package jobgraph

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// JobState is the lifecycle position of a Job within one arming cycle.
type JobState int32

const (
	StateArmed JobState = iota
	StateReady
	StateRunning
	StateFinished
)

// String returns the string representation of the job state.
func (s JobState) String() string {
	switch s {
	case StateArmed:
		return "ARMED"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateFinished:
		return "FINISHED"
	}
	return "UNKNOWN"
}

// Job is a unit of work gated by an atomic reference count.
//
// A Job must be initialized with Initialize before use and must not be copied
// afterwards. Between Initialize (or Reset) and completion only the reference
// count operations and Wait may be called concurrently.
type Job struct {
	owner   *Pool
	payload func(*Job)

	refs  atomic.Int64
	state atomic.Int32

	mu       sync.Mutex
	cond     sync.Cond
	finished bool
	err      error

	// Set for DependencyJob: on completion one reference is removed from
	// dependent.
	dependency bool
	dependent  *Job
}

// Initialize binds the job to its owner and payload and arms it with
// initialRefs references. payload may be nil.
func (j *Job) Initialize(owner *Pool, payload func(*Job), initialRefs int64) {
	if owner == nil {
		panic(violation(ErrNoOwner, "Initialize"))
	}
	if initialRefs < 1 {
		panic(violation(ErrInvalidRefCount, "Initialize with %d", initialRefs))
	}
	j.cond.L = &j.mu
	j.owner = owner
	j.payload = payload

	j.mu.Lock()
	j.finished = false
	j.err = nil
	j.mu.Unlock()

	j.state.Store(int32(StateArmed))
	j.refs.Store(initialRefs)
}

// AddReference adds one reference. The job must still be armed.
func (j *Job) AddReference() {
	if s := j.State(); s != StateArmed {
		panic(violation(ErrJobInFlight, "AddReference on %s job", s))
	}
	j.refs.Add(1)
}

// RemoveReference drops one reference. The caller that takes the count to
// exactly zero submits the job to its owner; every other caller observes a
// different post-decrement value, so a job is submitted once per cycle.
func (j *Job) RemoveReference() {
	left := j.refs.Add(-1)
	switch {
	case left < 0:
		panic(violation(ErrNegativeRefCount, "count is %d", left))
	case left == 0:
		if j.dependency && j.dependent == nil {
			panic(violation(ErrNoDependent, "job released before SetDependentJob"))
		}
		j.state.Store(int32(StateReady))
		j.owner.Submit(j)
	}
}

// Wait blocks until the job has finished its current cycle.
//
// Calling Wait from inside a payload running on the same pool deadlocks when
// no other worker is free to run the awaited job.
func (j *Job) Wait() {
	j.mu.Lock()
	for !j.finished {
		j.cond.Wait()
	}
	j.mu.Unlock()
}

// Reset rearms a finished (or never released) job with n references.
func (j *Job) Reset(n int64) {
	if n < 1 {
		panic(violation(ErrInvalidRefCount, "Reset with %d", n))
	}
	j.mustBeIdle("Reset")

	j.mu.Lock()
	j.finished = false
	j.err = nil
	j.mu.Unlock()

	j.state.Store(int32(StateArmed))
	j.refs.Store(n)
}

// SetPayload replaces the payload. Same precondition as Reset.
func (j *Job) SetPayload(payload func(*Job)) {
	j.mustBeIdle("SetPayload")
	j.payload = payload
}

// RefCount returns the current reference count.
func (j *Job) RefCount() int64 { return j.refs.Load() }

// State returns the current lifecycle state.
func (j *Job) State() JobState { return JobState(j.state.Load()) }

// Finished reports whether the current cycle has completed.
func (j *Job) Finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}

// Err returns the error recorded by the last completed cycle: a *PanicError
// if the payload panicked, ErrPoolClosed if the job was released after its
// pool quit, nil otherwise.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) mustBeIdle(op string) {
	switch s := j.State(); s {
	case StateReady, StateRunning:
		panic(violation(ErrJobInFlight, "%s on %s job", op, s))
	}
}

// execute runs one cycle on a worker. Nothing touches j after the dependent
// has been released: by then the owner of the graph may already be rearming
// it.
func (j *Job) execute() error {
	if j.dependency && j.dependent == nil {
		panic(violation(ErrNoDependent, "execute"))
	}
	dependent := j.dependent

	j.state.Store(int32(StateRunning))
	err := j.run()
	j.finish(err)

	if dependent != nil {
		dependent.RemoveReference()
	}
	return err
}

func (j *Job) run() (err error) {
	if j.payload == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	j.payload(j)
	return nil
}

// abandon completes a job that will never run.
func (j *Job) abandon(err error) {
	dependent := j.dependent
	j.finish(err)
	if dependent != nil {
		dependent.RemoveReference()
	}
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	j.err = err
	j.finished = true
	j.state.Store(int32(StateFinished))
	j.cond.Broadcast()
	j.mu.Unlock()
}
