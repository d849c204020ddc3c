package jobgraph

import (
	"errors"
	"fmt"
)

// Contract violations panic with an error wrapping one of these sentinels, so a
// recovered value can be matched with errors.Is.
var (
	ErrInvalidRefCount  = errors.New("jobgraph: reference count must be at least 1")
	ErrNegativeRefCount = errors.New("jobgraph: reference count dropped below zero")
	ErrNoOwner          = errors.New("jobgraph: job has no owning pool")
	ErrNoDependent      = errors.New("jobgraph: dependency job has no dependent")
	ErrJobInFlight      = errors.New("jobgraph: job is queued or running")
)

// Errors reported by a Pool.
var (
	ErrPoolClosed     = errors.New("jobgraph: pool has quit")
	ErrQuitFromWorker = errors.New("jobgraph: Quit called from one of the pool's own workers")
)

// PanicError is stored on a Job whose payload panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job payload panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func violation(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}
