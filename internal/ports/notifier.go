package ports

import (
	"context"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// Notifier presents the result of a pipeline pass to the user.
type Notifier interface {
	// Notify renders the gate report, orders and PnL summary.
	// The console implementation prints formatted tables.
	Notify(ctx context.Context, run domain.PipelineRun) error
}
