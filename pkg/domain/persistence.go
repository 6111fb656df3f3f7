package domain

import "context"

// RunStore is the persistence contract for run records. SaveRun replaces any
// run with the same id. ListRuns returns runs newest first.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	DeleteRun(ctx context.Context, id string) error
	Close() error
}
