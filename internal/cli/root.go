package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/me/stepsched/internal/config"
	"github.com/me/stepsched/internal/logging"
	"github.com/me/stepsched/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagDB        string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.RunConfig
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the stepsim CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stepsim",
		Short: "stepsim: fork-join particle simulation on a reference-counted job pool",
		Long: `stepsim advances a particle world step by step, splitting every step
into chunk jobs on a fixed worker pool, and keeps a history of runs in SQLite.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			level, err := logging.ParseLevel(c.LogLevel)
			if err != nil {
				return err
			}
			if !logging.ValidFormat(c.LogFormat) {
				return fmt.Errorf("unknown log format %q", c.LogFormat)
			}
			cfg = c
			logger = logging.NewLoggerWithWriter(level, c.LogFormat, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	defaults := config.DefaultRunConfig()
	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Path to a YAML run config")
	pf.StringVar(&flagDB, "db", "", "Database path (default ~/.stepsim/stepsim.db)")
	pf.BoolVar(&flagDebug, "debug", false, "Shorthand for --log-level=debug")
	pf.StringVar(&flagLogLevel, "log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", defaults.LogFormat, "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newRunsCmd(),
		newStepsCmd(),
		newServeCmd(),
	)

	return root
}

// loadConfig reads --config over the defaults and applies the persistent
// flags the user actually set.
func loadConfig(cmd *cobra.Command) (config.RunConfig, error) {
	c := config.DefaultRunConfig()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return c, err
		}
		c = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		c.DBPath = flagDB
	}
	if flags.Changed("log-level") {
		c.LogLevel = flagLogLevel
	}
	if flags.Changed("log-format") {
		c.LogFormat = flagLogFormat
	}
	if flagDebug {
		c.LogLevel = "debug"
	}
	return c, nil
}

// resolveDBPath returns path, or ~/.stepsim/stepsim.db when it is empty.
func resolveDBPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".stepsim")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "stepsim.db"), nil
}

// openStore opens and migrates the history database. The migration runs to
// completion even if ctx is already cancelled.
func openStore(ctx context.Context, path string) (*store.SQLiteStore, error) {
	dbPath, err := resolveDBPath(path)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(context.WithoutCancel(ctx)); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", dbPath)
	return st, nil
}
