package ports

import (
	"context"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// RunStorage persists the output of each pipeline pass.
type RunStorage interface {
	// SaveRun persists one pass: decisions, gate results, orders,
	// executions and position snapshots.
	SaveRun(ctx context.Context, run domain.PipelineRun) error

	// GetRunIDs returns persisted run ids, newest first.
	GetRunIDs(ctx context.Context) ([]string, error)

	// Close releases the underlying database cleanly.
	Close() error
}
