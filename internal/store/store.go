package store

import (
	"context"

	"github.com/me/stepsched/pkg/model"
)

// Store defines the persistence layer for run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	FinishRun(ctx context.Context, id string, state model.RunState, stepsDone int, runErr string) error

	// Steps
	RecordStep(ctx context.Context, step *model.StepRecord) error
	ListSteps(ctx context.Context, runID string) ([]*model.StepRecord, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
