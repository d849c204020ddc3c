package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps <run-id>",
		Short: "Show the recorded steps of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			runID := args[0]
			run, err := st.GetRun(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return fmt.Errorf("run %s not found", runID)
			}
			steps, err := st.ListSteps(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("list steps: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:   %s\n", run.ID)
			fmt.Fprintf(out, "State: %s (%d/%d steps)\n", run.State, run.StepsDone, run.Steps)
			if run.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", run.Error)
			}
			fmt.Fprintln(out)

			if len(steps) == 0 {
				fmt.Fprintln(out, "No steps recorded.")
				return nil
			}
			fmt.Fprintf(out, "%6s  %7s  %12s  %16s  %10s  %8s  %s\n", "STEP", "CHUNKS", "DURATION", "KINETIC", "MAX_Y", "BOUNCES", "STATUS")
			for _, s := range steps {
				fmt.Fprintf(out, "%6d  %7d  %12s  %16s  %10.3f  %8d  %s\n",
					s.Step, s.Chunks,
					time.Duration(s.DurationNs).String(),
					humanize.CommafWithDigits(s.Kinetic, 2),
					s.MaxHeight, s.Bounces, s.Status)
			}
			return nil
		},
	}
}
