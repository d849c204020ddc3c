package jobgraph

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ChunkedDispatch is a reusable fork-join graph: a start job that releases N
// chunk jobs, each of which releases one reference on a shared end job.
//
// The chunk jobs are rebuilt only when N changes; otherwise they are rearmed
// in place. A ChunkedDispatch is driven by one goroutine at a time.
type ChunkedDispatch struct {
	pool *Pool

	start  Job
	end    Job
	chunks []*DependencyJob

	// Read by chunk payloads. Written by Begin before the start job is
	// released, so every payload of a cycle sees that cycle's callback.
	perChunk func(int)

	released  bool
	inlineErr error
}

// NewChunkedDispatch returns a dispatch whose jobs run on pool.
func NewChunkedDispatch(pool *Pool) *ChunkedDispatch {
	d := &ChunkedDispatch{pool: pool}
	d.start.Initialize(pool, d.fanOut, 1)
	d.end.Initialize(pool, nil, 1)
	return d
}

// Begin arms the graph for n chunks and releases it. perChunk is called once
// for every index in [0, n) in no particular order; join, if not nil, is
// called once after all of them have returned.
//
// If a previous cycle is still in flight Begin waits for it first. With n == 0
// nothing is scheduled and join runs on the calling goroutine.
func (d *ChunkedDispatch) Begin(n int, perChunk func(i int), join func()) {
	if n < 0 {
		panic(fmt.Errorf("jobgraph: negative chunk count %d", n))
	}
	if n > 0 && perChunk == nil {
		panic(errors.New("jobgraph: nil chunk function"))
	}
	d.settle()
	d.inlineErr = nil

	if n == 0 {
		d.chunks = nil
		d.perChunk = nil
		if join != nil {
			d.inlineErr = callJoin(join)
		}
		return
	}

	d.perChunk = perChunk
	if n != len(d.chunks) {
		d.rebuild(n)
	} else {
		for _, c := range d.chunks {
			c.Reset(1)
		}
	}

	d.end.Reset(int64(n))
	var endPayload func(*Job)
	if join != nil {
		endPayload = func(*Job) { join() }
	}
	d.end.SetPayload(endPayload)

	d.start.Reset(1)
	d.released = true
	d.start.RemoveReference()
	if errors.Is(d.start.Err(), ErrPoolClosed) {
		// The start job was dropped on this goroutine; drop the chunks too so
		// the end job still completes.
		d.fanOut(nil)
	}
}

// Wait blocks until the join of the last Begin has run. It returns at once if
// nothing was scheduled.
func (d *ChunkedDispatch) Wait() {
	if !d.released {
		return
	}
	d.end.Wait()
}

// Err waits for the last cycle and returns the panics recovered from its
// chunk and join payloads, joined with errors.Join.
func (d *ChunkedDispatch) Err() error {
	d.settle()
	errs := []error{d.inlineErr}
	if len(d.chunks) > 0 {
		for i, c := range d.chunks {
			if err := c.Err(); err != nil {
				errs = append(errs, fmt.Errorf("chunk %d: %w", i, err))
			}
		}
		if err := d.end.Err(); err != nil {
			errs = append(errs, fmt.Errorf("join: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run is Begin followed by Err.
func (d *ChunkedDispatch) Run(n int, perChunk func(i int), join func()) error {
	d.Begin(n, perChunk, join)
	return d.Err()
}

// ChunkCount returns the number of chunk jobs currently allocated.
func (d *ChunkedDispatch) ChunkCount() int { return len(d.chunks) }

// settle waits until the previous cycle has fully completed, including the
// start job, which may finish after the end job.
func (d *ChunkedDispatch) settle() {
	if !d.released {
		return
	}
	d.end.Wait()
	d.start.Wait()
	d.released = false
}

func (d *ChunkedDispatch) rebuild(n int) {
	chunks := make([]*DependencyJob, n)
	for i := range chunks {
		c := &DependencyJob{}
		c.Initialize(d.pool, d.chunkPayload(i), 1)
		c.SetDependentJob(&d.end)
		chunks[i] = c
	}
	d.chunks = chunks
}

func (d *ChunkedDispatch) chunkPayload(i int) func(*Job) {
	return func(*Job) { d.perChunk(i) }
}

func (d *ChunkedDispatch) fanOut(*Job) {
	for _, c := range d.chunks {
		c.RemoveReference()
	}
}

func callJoin(join func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("join: %w", &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	join()
	return nil
}
