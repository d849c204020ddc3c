package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/me/stepsched/pkg/jobgraph"
)

// ErrNonFinite is reported when a chunk produces NaN or Inf state.
var ErrNonFinite = errors.New("non-finite particle state")

// Params are the integration constants.
type Params struct {
	Dt        float64
	Gravity   float64
	Damping   float64
	ChunkSize int
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %g", p.Dt)
	}
	if p.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1, got %d", p.ChunkSize)
	}
	if p.Damping < 0 || p.Damping > 1 {
		return fmt.Errorf("damping must be within [0, 1], got %g", p.Damping)
	}
	return nil
}

// StepResult summarizes one completed step.
type StepResult struct {
	Step      int     `json:"step"`
	Particles int     `json:"particles"`
	Chunks    int     `json:"chunks"`
	Kinetic   float64 `json:"kinetic"`
	MaxHeight float64 `json:"max_height"`
	Bounces   int     `json:"bounces"`
}

// chunkResult is one chunk's private output slot.
type chunkResult struct {
	kinetic   float64
	maxHeight float64
	bounces   int
	err       error
}

// Stepper advances a World one step at a time on a jobgraph pool.
type Stepper struct {
	world    *World
	params   Params
	dispatch *jobgraph.ChunkedDispatch
	logger   *slog.Logger

	step    int
	partial []chunkResult
	result  StepResult
}

// NewStepper creates a stepper for w running its chunks on pool.
func NewStepper(pool *jobgraph.Pool, w *World, params Params, logger *slog.Logger) (*Stepper, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Stepper{
		world:    w,
		params:   params,
		dispatch: jobgraph.NewChunkedDispatch(pool),
		logger:   logger.With("component", "stepper"),
	}, nil
}

// World returns the simulated world. It must not be read while Step runs.
func (s *Stepper) World() *World { return s.world }

// Steps returns the number of completed steps.
func (s *Stepper) Steps() int { return s.step }

// Chunks returns the chunk count the next step will use.
func (s *Stepper) Chunks() int {
	return (s.world.Len() + s.params.ChunkSize - 1) / s.params.ChunkSize
}

// Resize changes the particle count between steps. The next Step splits the
// new count into chunks; it must not be called while Step runs.
func (s *Stepper) Resize(particles int) {
	before := s.Chunks()
	s.world.Resize(particles)
	if after := s.Chunks(); after != before {
		s.logger.Debug("chunk count changed",
			"particles", s.world.Len(),
			"from", before,
			"to", after)
	}
}

// Step integrates every particle once. Failures inside chunks come back
// through the per-chunk slots; a panicking chunk is reported by the
// dispatch. Either way the step is not counted.
func (s *Stepper) Step() (StepResult, error) {
	n := s.Chunks()
	if cap(s.partial) < n {
		s.partial = make([]chunkResult, n)
	}
	s.partial = s.partial[:n]
	clear(s.partial)

	if err := s.dispatch.Run(n, s.integrateChunk, s.reduce); err != nil {
		return StepResult{}, fmt.Errorf("step %d: %w", s.step+1, err)
	}

	var errs []error
	for i := range s.partial {
		if err := s.partial[i].err; err != nil {
			errs = append(errs, fmt.Errorf("chunk %d: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return StepResult{}, fmt.Errorf("step %d: %w", s.step+1, err)
	}

	s.step++
	s.logger.Debug("step complete",
		"step", s.result.Step,
		"chunks", n,
		"kinetic", s.result.Kinetic)
	return s.result, nil
}

func (s *Stepper) integrateChunk(i int) {
	lo := i * s.params.ChunkSize
	hi := min(lo+s.params.ChunkSize, s.world.Len())
	out := &s.partial[i]
	out.kinetic, out.maxHeight, out.bounces = integrate(s.world, lo, hi, s.params)
	if math.IsNaN(out.kinetic) || math.IsInf(out.kinetic, 0) {
		out.err = ErrNonFinite
	}
}

func (s *Stepper) reduce() {
	r := StepResult{
		Step:      s.step + 1,
		Particles: s.world.Len(),
		Chunks:    len(s.partial),
	}
	for i := range s.partial {
		p := &s.partial[i]
		r.Kinetic += p.kinetic
		r.MaxHeight = max(r.MaxHeight, p.maxHeight)
		r.Bounces += p.bounces
	}
	s.result = r
}

// integrate advances particles [lo, hi) with semi-implicit Euler and a
// damped bounce off the y=0 plane.
func integrate(w *World, lo, hi int, p Params) (kinetic, maxHeight float64, bounces int) {
	for j := lo; j < hi; j++ {
		w.VY[j] -= p.Gravity * p.Dt
		w.X[j] += w.VX[j] * p.Dt
		w.Y[j] += w.VY[j] * p.Dt
		if w.Y[j] < 0 {
			w.Y[j] = -w.Y[j]
			w.VY[j] = -w.VY[j] * p.Damping
			bounces++
		}
		kinetic += 0.5 * (w.VX[j]*w.VX[j] + w.VY[j]*w.VY[j])
		maxHeight = max(maxHeight, w.Y[j])
	}
	return kinetic, maxHeight, bounces
}
