package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/stepsched/pkg/model"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var limit, offset int
	var state string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOptions{Limit: limit, Offset: offset, State: model.RunState(state)}
			if err := opts.Validate(); err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, total, err := st.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-44s  %-10s  %7s  %10s  %11s  %s\n", "ID", "STATE", "WORKERS", "PARTICLES", "STEPS", "CREATED")
			fmt.Fprintf(out, "%-44s  %-10s  %7s  %10s  %11s  %s\n", "--", "-----", "-------", "---------", "-----", "-------")
			for _, r := range runs {
				fmt.Fprintf(out, "%-44s  %-10s  %7d  %10s  %11s  %s\n",
					r.ID, r.State, r.Workers,
					humanize.Comma(int64(r.Particles)),
					fmt.Sprintf("%d/%d", r.StepsDone, r.Steps),
					humanize.RelTime(r.CreatedAt, time.Now(), "ago", "from now"))
			}

			if opts.Offset+len(runs) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	cmd.Flags().StringVar(&state, "state", "", "Only list runs in this state (RUNNING, COMPLETED, FAILED, CANCELLED)")

	return cmd
}
