package analyzer

// concurrent.go: worker pool for per-outcome analysis.
//
// Outcome computations share no mutable state, so they fan out freely; the
// rest of the pipeline (gate, simulator) stays strictly sequential.

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// AnalyzeConcurrent runs the analyzer over all inputs using a worker pool
// and returns the states sorted by (market_id, outcome_id) for stable
// downstream output. Records failing validation are skipped, not fatal.
//
// workers <= 0 uses runtime.NumCPU() * 2.
func AnalyzeConcurrent(ctx context.Context, a *Analyzer, inputs []Input, workers int) []domain.MarketMicrostructureState {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	workCh := make(chan Input, len(inputs))
	resultCh := make(chan domain.MarketMicrostructureState, len(inputs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for in := range workCh {
				if ctx.Err() != nil {
					return
				}
				state, err := a.Analyze(in)
				if err != nil {
					slog.Warn("analyze failed",
						"outcome_id", in.Outcome.ID,
						"err", err,
					)
					continue
				}
				resultCh <- state
			}
		}()
	}

	for _, in := range inputs {
		workCh <- in
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	states := make([]domain.MarketMicrostructureState, 0, len(inputs))
	for state := range resultCh {
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool {
		if states[i].MarketID != states[j].MarketID {
			return states[i].MarketID < states[j].MarketID
		}
		return states[i].OutcomeID < states[j].OutcomeID
	})

	slog.Debug("concurrent analysis complete",
		"outcomes_queued", len(inputs),
		"states", len(states),
		"workers", workers,
	)
	return states
}
