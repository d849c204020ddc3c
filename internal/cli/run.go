package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/me/stepsched/internal/config"
	"github.com/me/stepsched/internal/metrics"
	"github.com/me/stepsched/internal/sim"
	"github.com/me/stepsched/internal/store"
	"github.com/me/stepsched/pkg/jobgraph"
	"github.com/me/stepsched/pkg/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRunCmd() *cobra.Command {
	var (
		noHistory bool
		output    string
		tail      int
		over      config.RunConfig
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation and record it",
		Long: `Run advances the particle world for the configured number of steps. Each
step is split into chunk jobs on the worker pool and joined before the next
step starts. SIGINT or SIGTERM stops the run after the current step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := applyRunFlags(cmd, cfg, over)
			if err := c.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			switch output {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q (want text, json or yaml)", output)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var st store.Store
			if !noHistory {
				s, err := openStore(ctx, c.DBPath)
				if err != nil {
					return err
				}
				defer s.Close()
				st = s
			}

			res, err := simulate(ctx, c, st, logger)
			if res != nil && res.Metrics != nil {
				if werr := writeMetrics(cmd.OutOrStdout(), res.Metrics, output, tail); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}

	defaults := config.DefaultRunConfig()
	f := cmd.Flags()
	f.IntVarP(&over.Workers, "workers", "w", defaults.Workers, "Worker goroutines")
	f.IntVarP(&over.Particles, "particles", "n", defaults.Particles, "Particle count")
	f.IntVar(&over.ChunkSize, "chunk-size", defaults.ChunkSize, "Particles per chunk job")
	f.IntVar(&over.Steps, "steps", defaults.Steps, "Steps to run")
	f.Float64Var(&over.Dt, "dt", defaults.Dt, "Step length in seconds")
	f.Float64Var(&over.Gravity, "gravity", defaults.Gravity, "Downward acceleration")
	f.Float64Var(&over.Damping, "damping", defaults.Damping, "Velocity kept after a bounce (0..1)")
	f.Int64Var(&over.Seed, "seed", defaults.Seed, "Initial-state seed")
	f.BoolVar(&noHistory, "no-history", false, "Do not record the run in the database")
	f.StringVarP(&output, "output", "o", "text", "Metrics output format (text, json, yaml)")
	f.IntVar(&tail, "tail", 10, "Steps listed in the text summary")

	return cmd
}

// applyRunFlags copies the run flags the user set over c.
func applyRunFlags(cmd *cobra.Command, c, over config.RunConfig) config.RunConfig {
	f := cmd.Flags()
	if f.Changed("workers") {
		c.Workers = over.Workers
	}
	if f.Changed("particles") {
		c.Particles = over.Particles
	}
	if f.Changed("chunk-size") {
		c.ChunkSize = over.ChunkSize
	}
	if f.Changed("steps") {
		c.Steps = over.Steps
	}
	if f.Changed("dt") {
		c.Dt = over.Dt
	}
	if f.Changed("gravity") {
		c.Gravity = over.Gravity
	}
	if f.Changed("damping") {
		c.Damping = over.Damping
	}
	if f.Changed("seed") {
		c.Seed = over.Seed
	}
	return c
}

// runResult is what simulate reports back to the command.
type runResult struct {
	RunID   string
	State   model.RunState
	Steps   int
	Last    sim.StepResult
	Stats   jobgraph.PoolStats
	Metrics *metrics.RunMetrics
}

// simulate executes one run. st may be nil, in which case nothing is
// recorded. Cancelling ctx stops the run between steps.
func simulate(ctx context.Context, c config.RunConfig, st store.Store, logger *slog.Logger) (*runResult, error) {
	pool := jobgraph.NewPool(c.Workers, jobgraph.WithLogger(logger), jobgraph.WithName("sim"))
	defer pool.Quit()

	world := sim.NewWorld(c.Particles, c.Seed)
	stepper, err := sim.NewStepper(pool, world, sim.Params{
		Dt:        c.Dt,
		Gravity:   c.Gravity,
		Damping:   c.Damping,
		ChunkSize: c.ChunkSize,
	}, logger)
	if err != nil {
		return nil, err
	}

	res := &runResult{
		RunID: "run_" + uuid.New().String(),
		State: model.RunStateCompleted,
	}
	log := logger.With("run_id", res.RunID)
	collector := metrics.NewCollector(true)
	collector.SetRun(res.RunID, pool.Workers())

	// History writes ignore cancellation: an interrupted run is still
	// recorded, as CANCELLED.
	storeCtx := context.WithoutCancel(ctx)
	if st != nil {
		err := st.CreateRun(storeCtx, &model.Run{
			ID:        res.RunID,
			Workers:   pool.Workers(),
			Particles: c.Particles,
			ChunkSize: c.ChunkSize,
			Steps:     c.Steps,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
	}

	log.Info("run started",
		"workers", pool.Workers(),
		"particles", c.Particles,
		"chunks", stepper.Chunks(),
		"steps", c.Steps)

	var runErr error
	for res.Steps < c.Steps {
		if ctx.Err() != nil {
			res.State = model.RunStateCancelled
			log.Warn("run interrupted", "steps_done", res.Steps)
			break
		}

		start := time.Now()
		out, err := stepper.Step()
		sm := metrics.StepMetrics{
			Step:      res.Steps + 1,
			Particles: world.Len(),
			Chunks:    stepper.Chunks(),
			StartTime: start,
			Duration:  time.Since(start),
			Kinetic:   out.Kinetic,
			MaxHeight: out.MaxHeight,
			Bounces:   out.Bounces,
			Status:    metrics.StatusSuccess,
		}
		if err != nil {
			sm.Status = metrics.StatusFailed
			sm.Error = err.Error()
		}
		collector.RecordStep(sm)

		if st != nil {
			rec := &model.StepRecord{
				RunID:      res.RunID,
				Step:       sm.Step,
				Particles:  sm.Particles,
				Chunks:     sm.Chunks,
				DurationNs: int64(sm.Duration),
				Kinetic:    sm.Kinetic,
				MaxHeight:  sm.MaxHeight,
				Bounces:    sm.Bounces,
				Status:     sm.Status,
				Error:      sm.Error,
				StartedAt:  start.UTC(),
			}
			if rerr := st.RecordStep(storeCtx, rec); rerr != nil {
				log.Warn("record step failed", "step", sm.Step, "error", rerr)
			}
		}

		if err != nil {
			res.State = model.RunStateFailed
			runErr = err
			log.Error("step failed", "step", sm.Step, "error", err)
			break
		}
		res.Steps++
		res.Last = out
	}

	// Counters settle once the workers have exited.
	if err := pool.Quit(); err != nil {
		log.Error("pool quit failed", "error", err)
	}
	res.Stats = pool.Stats()
	res.Metrics = collector.Finalize()

	if st != nil {
		msg := ""
		if runErr != nil {
			msg = runErr.Error()
		}
		if err := st.FinishRun(storeCtx, res.RunID, res.State, res.Steps, msg); err != nil {
			log.Error("finish run failed", "error", err)
			if runErr == nil {
				runErr = fmt.Errorf("finish run: %w", err)
			}
		}
	}

	log.Info("run finished",
		"state", res.State,
		"steps_done", res.Steps,
		"jobs_executed", res.Stats.Executed,
		"duration", res.Metrics.DurationStr)
	return res, runErr
}

// writeMetrics renders m as a text summary, JSON or YAML.
func writeMetrics(w io.Writer, m *metrics.RunMetrics, format string, tail int) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m.ToMap())
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m.ToMap()); err != nil {
			return err
		}
		return enc.Close()
	default:
		metrics.PrintSummary(w, m, tail)
		return nil
	}
}
