package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/stepsched/pkg/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	state := run.State
	if state == "" {
		state = model.RunStateRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, state, workers, particles, chunk_size, steps, steps_done, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(state), run.Workers, run.Particles, run.ChunkSize, run.Steps, run.StepsDone, run.Error,
		run.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	run.State = state
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, workers, particles, chunk_size, steps, steps_done, error, created_at, completed_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	where, args := "", []any{}
	if opts.State != "" {
		where = " WHERE state = ?"
		args = append(args, string(opts.State))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state, workers, particles, chunk_size, steps, steps_done, error, created_at, completed_at
		 FROM runs`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// FinishRun moves a RUNNING run to a terminal state.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, state model.RunState, stepsDone int, runErr string) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", id, "state", state)

	current, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return model.NewNotFoundError("run", id)
	}
	if !current.State.CanTransitionTo(state) {
		return &model.InvalidTransitionError{ID: id, From: current.State, To: state}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, steps_done = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(state), stepsDone, runErr, time.Now().UTC().Format(timeLayout), id,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var state, createdAt string
	var completedAt sql.NullString

	if err := row.Scan(&run.ID, &state, &run.Workers, &run.Particles, &run.ChunkSize, &run.Steps,
		&run.StepsDone, &run.Error, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	run.State = model.RunState(state)
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		run.CompletedAt = &t
	}
	return &run, nil
}

// --- Steps ---

func (s *SQLiteStore) RecordStep(ctx context.Context, step *model.StepRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, step, particles, chunks, duration_ns, kinetic, max_height, bounces, status, error, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.Step, step.Particles, step.Chunks, step.DurationNs, step.Kinetic, step.MaxHeight,
		step.Bounces, step.Status, step.Error, step.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert step %d of %s: %w", step.Step, step.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*model.StepRecord, error) {
	s.logger.Debug("sql", "op", "list", "table", "steps", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step, particles, chunks, duration_ns, kinetic, max_height, bounces, status, error, started_at
		 FROM steps WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*model.StepRecord
	for rows.Next() {
		var st model.StepRecord
		var startedAt string
		if err := rows.Scan(&st.RunID, &st.Step, &st.Particles, &st.Chunks, &st.DurationNs, &st.Kinetic,
			&st.MaxHeight, &st.Bounces, &st.Status, &st.Error, &startedAt); err != nil {
			return nil, err
		}
		st.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}
