package jobgraph

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// Pool runs ready jobs on a fixed set of worker goroutines, in the order they
// became ready.
type Pool struct {
	name    string
	logger  *slog.Logger
	workers int

	mu       sync.Mutex
	cond     sync.Cond
	queue    []*Job
	quitting bool
	alive    int

	// Goroutine ids of the workers; written before NewPool returns, read-only
	// afterwards.
	ids map[int64]struct{}

	wg       sync.WaitGroup
	quitOnce sync.Once

	submitted atomic.Uint64
	executed  atomic.Uint64
	panicked  atomic.Uint64
	dropped   atomic.Uint64
}

// PoolStats is a point-in-time snapshot of a pool's counters.
type PoolStats struct {
	Workers   int    `json:"workers"`
	Alive     int    `json:"alive"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Executed  uint64 `json:"executed"`
	Panicked  uint64 `json:"panicked"`
	Dropped   uint64 `json:"dropped"`
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets the logger used for worker lifecycle and payload panics.
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithName labels the pool in log output.
func WithName(name string) PoolOption {
	return func(p *Pool) { p.name = name }
}

// NewPool starts a pool with the given number of workers. If workers < 1,
// runtime.NumCPU() workers are started. The workers are running when NewPool
// returns.
func NewPool(workers int, opts ...PoolOption) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	p := &Pool{
		name:    "jobgraph",
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers: workers,
		ids:     make(map[int64]struct{}, workers),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pool", "pool", p.name)
	p.cond.L = &p.mu

	var started sync.WaitGroup
	started.Add(workers)
	p.wg.Add(workers)
	p.alive = workers
	for range workers {
		go p.worker(&started)
	}
	started.Wait()

	p.logger.Debug("pool started", "workers", workers)
	return p
}

// Submit appends a ready job to the queue and wakes one worker. It is safe to
// call from any goroutine, including a worker running a payload.
//
// Once every worker has exited the job is not queued: it is finished with
// ErrPoolClosed so that waiters and dependents are still released.
func (p *Pool) Submit(job *Job) {
	p.mu.Lock()
	if p.alive == 0 {
		p.mu.Unlock()
		p.dropped.Add(1)
		p.logger.Warn("job submitted after quit; dropping")
		job.abandon(ErrPoolClosed)
		return
	}
	p.queue = append(p.queue, job)
	p.submitted.Add(1)
	p.mu.Unlock()
	p.cond.Signal()
}

// Quit stops the pool: workers drain the queue, then exit, and Quit waits for
// all of them. Only the first call does any work.
//
// Quit must not be called from one of the pool's own workers, since it would
// wait for itself; such a call returns ErrQuitFromWorker without stopping
// anything.
func (p *Pool) Quit() error {
	if p.IsWorker() {
		p.logger.Error("Quit called from worker goroutine", "goroutine", goid.Get())
		return fmt.Errorf("pool %s: %w", p.name, ErrQuitFromWorker)
	}
	p.quitOnce.Do(func() {
		p.mu.Lock()
		p.quitting = true
		p.mu.Unlock()
		p.cond.Broadcast()

		p.wg.Wait()
		p.logger.Debug("pool stopped",
			"submitted", p.submitted.Load(),
			"executed", p.executed.Load(),
			"panicked", p.panicked.Load())
	})
	return nil
}

// Close is Quit, for use as an io.Closer.
func (p *Pool) Close() error {
	return p.Quit()
}

// Workers returns the number of workers the pool was started with.
func (p *Pool) Workers() int { return p.workers }

// IsWorker reports whether the calling goroutine is one of p's workers.
func (p *Pool) IsWorker() bool {
	_, ok := p.ids[goid.Get()]
	return ok
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	queued, alive := len(p.queue), p.alive
	p.mu.Unlock()
	return PoolStats{
		Workers:   p.workers,
		Alive:     alive,
		Queued:    queued,
		Submitted: p.submitted.Load(),
		Executed:  p.executed.Load(),
		Panicked:  p.panicked.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Pool) worker(started *sync.WaitGroup) {
	defer p.wg.Done()

	p.mu.Lock()
	p.ids[goid.Get()] = struct{}{}
	p.mu.Unlock()
	started.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.quitting {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// Quitting and drained. Decrementing under the lock means any job
			// accepted by Submit is seen by a worker that is still looping.
			p.alive--
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(job)
	}
}

func (p *Pool) run(job *Job) {
	err := job.execute()
	p.executed.Add(1)
	if err == nil {
		return
	}
	p.panicked.Add(1)
	var pe *PanicError
	if errors.As(err, &pe) {
		p.logger.Error("job payload panicked",
			slog.Any("panic", pe.Value),
			slog.String("stack", string(pe.Stack)),
		)
	}
}
