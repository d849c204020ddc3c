// Package sim is a small particle integrator that drives jobgraph's chunked
// dispatch once per step. It stands in for a real solver: each step splits
// the particles into fixed-size chunks, integrates every chunk as its own
// job, and reduces per-chunk results in the join.
package sim

import "math/rand/v2"

// World holds particle state as parallel slices. Particle i owns index i of
// every slice; chunks never touch each other's ranges.
type World struct {
	X, Y   []float64
	VX, VY []float64

	rng *rand.Rand
}

// NewWorld creates n particles scattered above the ground plane.
func NewWorld(n int, seed int64) *World {
	w := &World{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))}
	w.Resize(n)
	return w
}

// Len returns the particle count.
func (w *World) Len() int { return len(w.X) }

// Resize truncates or grows the particle set. New particles are spawned from
// the world's own random source.
func (w *World) Resize(n int) {
	if n < 0 {
		n = 0
	}
	if n <= len(w.X) {
		w.X, w.Y, w.VX, w.VY = w.X[:n], w.Y[:n], w.VX[:n], w.VY[:n]
		return
	}
	for len(w.X) < n {
		w.X = append(w.X, w.rng.Float64()*100)
		w.Y = append(w.Y, w.rng.Float64()*50)
		w.VX = append(w.VX, w.rng.Float64()*2-1)
		w.VY = append(w.VY, 0)
	}
}

// Clone returns a deep copy sharing no slices with w.
func (w *World) Clone() *World {
	c := &World{
		X:  append([]float64(nil), w.X...),
		Y:  append([]float64(nil), w.Y...),
		VX: append([]float64(nil), w.VX...),
		VY: append([]float64(nil), w.VY...),
	}
	c.rng = rand.New(rand.NewPCG(w.rng.Uint64(), w.rng.Uint64()))
	return c
}
