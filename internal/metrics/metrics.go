// Package metrics collects per-step timings and results for a simulation run
// and renders them as a summary table or a JSON-ready map.
package metrics

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Step statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// StepMetrics holds metrics for a single simulation step.
type StepMetrics struct {
	Step        int           `json:"step"`
	Particles   int           `json:"particles"`
	Chunks      int           `json:"chunks"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"duration_ns"`
	DurationStr string        `json:"duration"`
	Kinetic     float64       `json:"kinetic"`
	MaxHeight   float64       `json:"max_height"`
	Bounces     int           `json:"bounces"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
}

// Summary holds aggregate statistics over the recorded steps.
type Summary struct {
	Count             int           `json:"count"`
	DurationAvg       time.Duration `json:"duration_avg_ns"`
	DurationAvgStr    string        `json:"duration_avg"`
	DurationStddev    time.Duration `json:"duration_stddev_ns"`
	DurationStddevStr string        `json:"duration_stddev"`
	DurationMax       time.Duration `json:"duration_max_ns"`
	ChunksTotal       int64         `json:"chunks_total"`
	ParticleSteps     int64         `json:"particle_steps"`
}

// RunMetrics holds the metrics of a whole run.
type RunMetrics struct {
	RunID         string        `json:"run_id,omitempty"`
	Workers       int           `json:"workers"`
	StartTime     time.Time     `json:"start_time"`
	Duration      time.Duration `json:"duration_ns"`
	DurationStr   string        `json:"duration"`
	StepsComplete int           `json:"steps_completed"`
	StepsFailed   int           `json:"steps_failed"`
	Steps         []StepMetrics `json:"steps"`
	Summary       *Summary      `json:"summary,omitempty"`

	mu sync.Mutex
}

// Collector collects metrics during a run. A nil or disabled collector
// ignores every call.
type Collector struct {
	enabled bool
	run     *RunMetrics
}

// NewCollector creates a collector. If enabled is false, all operations are
// no-ops.
func NewCollector(enabled bool) *Collector {
	c := &Collector{enabled: enabled}
	if enabled {
		c.run = &RunMetrics{StartTime: time.Now()}
	}
	return c
}

// Enabled returns true if collection is enabled.
func (c *Collector) Enabled() bool {
	return c != nil && c.enabled
}

// SetRun sets the run id and worker count reported in the summary.
func (c *Collector) SetRun(id string, workers int) {
	if !c.Enabled() {
		return
	}
	c.run.RunID = id
	c.run.Workers = workers
}

// RecordStep records a finished step.
func (c *Collector) RecordStep(m StepMetrics) {
	if !c.Enabled() {
		return
	}
	m.DurationStr = formatDuration(m.Duration)

	c.run.mu.Lock()
	defer c.run.mu.Unlock()

	c.run.Steps = append(c.run.Steps, m)
	switch m.Status {
	case StatusSuccess:
		c.run.StepsComplete++
	case StatusFailed:
		c.run.StepsFailed++
	}
}

// Finalize stamps the run duration and computes the summary.
func (c *Collector) Finalize() *RunMetrics {
	if !c.Enabled() {
		return nil
	}
	c.run.mu.Lock()
	defer c.run.mu.Unlock()

	c.run.Duration = time.Since(c.run.StartTime)
	c.run.DurationStr = formatDuration(c.run.Duration)
	c.run.Summary = Summarize(c.run.Steps)
	return c.run
}

// Summarize computes aggregate statistics over successful steps. It returns
// nil when there are none.
func Summarize(steps []StepMetrics) *Summary {
	var s Summary
	var total time.Duration
	for _, st := range steps {
		if st.Status != StatusSuccess {
			continue
		}
		s.Count++
		total += st.Duration
		s.DurationMax = max(s.DurationMax, st.Duration)
		s.ChunksTotal += int64(st.Chunks)
		s.ParticleSteps += int64(st.Particles)
	}
	if s.Count == 0 {
		return nil
	}

	s.DurationAvg = total / time.Duration(s.Count)
	s.DurationAvgStr = formatDuration(s.DurationAvg)

	if s.Count > 1 {
		var sumSquaredDiff float64
		avgNs := float64(s.DurationAvg.Nanoseconds())
		for _, st := range steps {
			if st.Status != StatusSuccess {
				continue
			}
			diff := float64(st.Duration.Nanoseconds()) - avgNs
			sumSquaredDiff += diff * diff
		}
		s.DurationStddev = time.Duration(int64(math.Sqrt(sumSquaredDiff / float64(s.Count))))
		s.DurationStddevStr = formatDuration(s.DurationStddev)
	}
	return &s
}

// formatDuration formats a step-scale duration.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}

// PrintSummary writes a human-readable summary of m to w. At most tail of the
// most recent steps are listed; tail <= 0 lists none.
func PrintSummary(w io.Writer, m *RunMetrics, tail int) {
	if m == nil {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Run Summary ===")
	if m.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", m.RunID)
	}
	fmt.Fprintf(w, "Workers: %d\n", m.Workers)
	fmt.Fprintf(w, "Total Duration: %s\n", m.DurationStr)

	if tail > 0 && len(m.Steps) > 0 {
		steps := m.Steps
		if len(steps) > tail {
			steps = steps[len(steps)-tail:]
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%6s  %10s  %7s  %12s  %16s  %s\n", "Step", "Particles", "Chunks", "Duration", "Kinetic", "Status")
		fmt.Fprintln(w, strings.Repeat("-", 70))
		for _, st := range steps {
			icon := "✓"
			if st.Status == StatusFailed {
				icon = "✗"
			}
			fmt.Fprintf(w, "%6d  %10s  %7d  %12s  %16s  %s %s\n",
				st.Step,
				humanize.Comma(int64(st.Particles)),
				st.Chunks,
				st.DurationStr,
				humanize.CommafWithDigits(st.Kinetic, 2),
				icon, st.Status)
		}
		fmt.Fprintln(w, strings.Repeat("-", 70))
	}

	fmt.Fprintf(w, "Steps: %d completed", m.StepsComplete)
	if m.StepsFailed > 0 {
		fmt.Fprintf(w, ", %d failed", m.StepsFailed)
	}
	fmt.Fprintln(w)

	if s := m.Summary; s != nil {
		if s.DurationStddev > 0 {
			fmt.Fprintf(w, "Step Duration: %s ± %s (max %s)\n", s.DurationAvgStr, s.DurationStddevStr, formatDuration(s.DurationMax))
		} else {
			fmt.Fprintf(w, "Step Duration: %s\n", s.DurationAvgStr)
		}
		fmt.Fprintf(w, "Chunk Jobs: %s\n", humanize.Comma(s.ChunksTotal))
		fmt.Fprintf(w, "Particle Updates: %s\n", humanize.Comma(s.ParticleSteps))
	}
	fmt.Fprintln(w)
}

// ToMap converts RunMetrics to a map suitable for JSON or YAML output.
func (m *RunMetrics) ToMap() map[string]any {
	if m == nil {
		return nil
	}

	steps := make([]map[string]any, len(m.Steps))
	for i, st := range m.Steps {
		sm := map[string]any{
			"step":        st.Step,
			"particles":   st.Particles,
			"chunks":      st.Chunks,
			"duration":    st.DurationStr,
			"duration_ns": int64(st.Duration),
			"kinetic":     st.Kinetic,
			"max_height":  st.MaxHeight,
			"bounces":     st.Bounces,
			"status":      st.Status,
		}
		if st.Error != "" {
			sm["error"] = st.Error
		}
		steps[i] = sm
	}

	result := map[string]any{
		"workers":         m.Workers,
		"duration":        m.DurationStr,
		"duration_ns":     int64(m.Duration),
		"steps_completed": m.StepsComplete,
		"steps_failed":    m.StepsFailed,
		"steps":           steps,
	}
	if m.RunID != "" {
		result["run_id"] = m.RunID
	}
	if s := m.Summary; s != nil {
		result["summary"] = map[string]any{
			"count":              s.Count,
			"duration_avg":       s.DurationAvgStr,
			"duration_avg_ns":    int64(s.DurationAvg),
			"duration_stddev":    s.DurationStddevStr,
			"duration_stddev_ns": int64(s.DurationStddev),
			"chunks_total":       s.ChunksTotal,
			"particle_steps":     s.ParticleSteps,
		}
	}
	return result
}
