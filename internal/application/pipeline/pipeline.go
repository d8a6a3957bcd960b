package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polypipe/internal/application/analyzer"
	"github.com/alejandrodnm/polypipe/internal/application/builder"
	"github.com/alejandrodnm/polypipe/internal/application/gate"
	"github.com/alejandrodnm/polypipe/internal/application/mapper"
	"github.com/alejandrodnm/polypipe/internal/application/sim"
	"github.com/alejandrodnm/polypipe/internal/domain"
	"github.com/alejandrodnm/polypipe/internal/ports"
)

// Config aggregates per-stage configuration for one pipeline pass.
type Config struct {
	Workers  int
	Analyzer analyzer.Config
	Gate     gate.Config
	Builder  builder.Config
	Sim      sim.Config
}

// Input is the full batch input for one pass: the market ontology, the raw
// market data per outcome, the agent's candidate decisions, and the fund's
// execution state.
type Input struct {
	Markets     []domain.Market
	Snapshots   []analyzer.Input
	Candidates  []domain.CandidateDecision
	Bundle      domain.ExecutionBundle
	PortfolioID string
	// Liquidity keyed by outcome id, consumed as orders fill.
	Liquidity map[string]sim.Liquidity
	// CautionOverrides holds decision ids explicitly cleared to trade
	// despite a caution verdict.
	CautionOverrides map[string]bool
}

// Pipeline wires the five stages end to end:
// analyze → map → gate → build → simulate.
// Each stage consumes only the previous stage's output, so a pass is fully
// reproducible from its Input.
type Pipeline struct {
	cfg       Config
	approvals ports.ApprovalSource
	storage   ports.RunStorage
	notifier  ports.Notifier
}

// New creates a Pipeline. approvals, storage and notifier may each be nil;
// the corresponding step is then skipped.
func New(cfg Config, approvals ports.ApprovalSource, storage ports.RunStorage, notifier ports.Notifier) *Pipeline {
	return &Pipeline{cfg: cfg, approvals: approvals, storage: storage, notifier: notifier}
}

// Run executes one full pass and returns everything it produced. Stage
// failures that concern a single record (bad decision, unfillable order)
// degrade to skip lists; only structural failures (unknown portfolio,
// storage errors) abort the pass.
func (p *Pipeline) Run(ctx context.Context, in Input) (domain.PipelineRun, error) {
	started := time.Now().UTC()

	states := analyzer.AnalyzeConcurrent(ctx, analyzer.New(p.cfg.Analyzer), in.Snapshots, p.cfg.Workers)
	statesByOutcome := make(map[string]domain.MarketMicrostructureState, len(states))
	for _, st := range states {
		statesByOutcome[st.OutcomeID] = st
	}

	records, failures := mapper.New(in.Markets).MapAll(in.Candidates, statesByOutcome)

	report, err := gate.New(p.cfg.Gate, p.approvals).Evaluate(ctx, in.Bundle, in.PortfolioID, records, statesByOutcome)
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("pipeline.Run: gate evaluation: %w", err)
	}

	orders, skippedDecisions := builder.New(p.cfg.Builder).Build(records, report, in.CautionOverrides)

	// Pending orders from earlier passes go through the same simulation so
	// partial fills can complete. Their decision records ride in the bundle
	// and join this pass's records for audit linkage.
	passOrders := append(in.Bundle.PendingOrders(in.PortfolioID), orders...)
	simDecisions := records
	knownDecisions := make(map[string]bool, len(records))
	for _, d := range records {
		knownDecisions[d.ID] = true
	}
	for _, d := range in.Bundle.DecisionRecords {
		if !knownDecisions[d.ID] {
			simDecisions = append(simDecisions, d)
			knownDecisions[d.ID] = true
		}
	}

	simRes := sim.New(p.cfg.Sim).Run(in.Bundle, passOrders, simDecisions, report, in.Liquidity, in.PortfolioID)

	// Orders the simulator refused (awaiting approval, no liquidity) still
	// belong to the fund state so a later pass can pick them up, and this
	// pass's decision records persist for the orders they back.
	for _, o := range orders {
		if _, ok := simRes.Bundle.OrderByID(o.ID); !ok {
			simRes.Bundle.Orders = append(simRes.Bundle.Orders, o)
		}
	}
	bundleDecisions := make(map[string]bool, len(simRes.Bundle.DecisionRecords))
	for _, d := range simRes.Bundle.DecisionRecords {
		bundleDecisions[d.ID] = true
	}
	for _, d := range records {
		if !bundleDecisions[d.ID] {
			simRes.Bundle.DecisionRecords = append(simRes.Bundle.DecisionRecords, d)
		}
	}

	run := domain.PipelineRun{
		ID:               "run_" + uuid.New().String(),
		GeneratedAt:      simRes.GeneratedAt,
		PortfolioID:      in.PortfolioID,
		RiskPolicyID:     report.RiskPolicyID,
		States:           states,
		Decisions:        records,
		MappingFailures:  failures,
		GateReport:       report,
		Orders:           orders,
		SkippedDecisions: skippedDecisions,
		SimulationID:     simRes.SimulationID,
		ExecutedOrders:   simRes.ExecutedOrders,
		SkippedOrders:    simRes.SkippedOrders,
		Executions:       simRes.Executions,
		AuditTrail:       simRes.AuditTrail,
		PositionUpdates:  simRes.PositionUpdates,
		PnL:              simRes.PnL,
		UpdatedBundle:    simRes.Bundle,
	}

	if p.storage != nil {
		if err := p.storage.SaveRun(ctx, run); err != nil {
			return domain.PipelineRun{}, fmt.Errorf("pipeline.Run: persisting run %s: %w", run.ID, err)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, run); err != nil {
			slog.Warn("run notification failed", "run_id", run.ID, "err", err)
		}
	}

	slog.Info("pipeline pass complete",
		"run_id", run.ID,
		"outcomes", len(states),
		"decisions", len(records),
		"orders", len(orders),
		"executed", len(run.ExecutedOrders),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return run, nil
}
