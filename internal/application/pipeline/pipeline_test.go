package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypipe/internal/application/analyzer"
	"github.com/alejandrodnm/polypipe/internal/application/builder"
	"github.com/alejandrodnm/polypipe/internal/application/gate"
	"github.com/alejandrodnm/polypipe/internal/application/sim"
	"github.com/alejandrodnm/polypipe/internal/domain"
)

func testInput() Input {
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	market := domain.Market{
		ID:       "mkt1",
		Question: "Will the thing happen?",
		Active:   true,
		Outcomes: []domain.Outcome{
			{ID: "tok_yes", MarketID: "mkt1", Label: "Yes", FallbackProbability: 0.5},
		},
	}
	snapshot := &domain.OrderBookSnapshot{
		MarketID:  "mkt1",
		OutcomeID: "tok_yes",
		Timestamp: now,
		Bids:      []domain.BookLevel{{Price: 0.48, Size: 4000}},
		Asks:      []domain.BookLevel{{Price: 0.50, Size: 4000}},
	}
	return Input{
		Markets: []domain.Market{market},
		Snapshots: []analyzer.Input{{
			Outcome:  market.Outcomes[0],
			Snapshot: snapshot,
			Trades: []domain.TradePrint{
				{ID: "t1", OutcomeID: "tok_yes", Price: 0.49, Size: 900, Timestamp: now},
			},
			SourceID: "capture_1",
		}},
		Candidates: []domain.CandidateDecision{
			{DecisionID: "dec_buy", MarketID: "mkt1", OutcomeID: "tok_yes",
				ProposedAction: "buy", Confidence: 0.8, ThesisSummary: "mispricing"},
			{DecisionID: "dec_hold", MarketID: "mkt1", OutcomeID: "tok_yes",
				ProposedAction: "hold", Confidence: 0.9},
			{DecisionID: "dec_bad", MarketID: "mkt1", OutcomeID: "tok_yes",
				ProposedAction: "gamble", Confidence: 0.9},
		},
		Bundle: domain.ExecutionBundle{
			PortfolioAccounts: []domain.PortfolioAccount{
				{ID: "pf1", BaseCurrency: "USD", Status: domain.PortfolioActive, RiskPolicyID: "rp1"},
			},
			RiskPolicies: []domain.RiskPolicy{
				{ID: "rp1", MaxPositionUSD: 1e6, MaxDailyNotionalUSD: 1e6, MaxMarketExposurePct: 1},
			},
		},
		PortfolioID: "pf1",
		Liquidity:   map[string]sim.Liquidity{"tok_yes": {ReferencePrice: 0.49}},
	}
}

func testConfig() Config {
	return Config{
		Workers: 2,
		Gate:    gate.Config{DefaultOrderSizeUSD: 100},
		Builder: builder.Config{OrderType: domain.OrderLimit},
		Sim: sim.Config{
			FillModel: sim.FillModelRatio, FillRatio: 1.0,
			FeeBps: -1, SlippageBps: -1, ExecuteProposed: true,
		},
	}
}

func TestRun_FullPass(t *testing.T) {
	p := New(testConfig(), nil, nil, nil)
	run, err := p.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "pf1", run.PortfolioID)
	assert.Equal(t, "rp1", run.RiskPolicyID)
	require.Len(t, run.States, 1)
	assert.Equal(t, "tok_yes", run.States[0].OutcomeID)

	// One valid buy, one hold, one rejected action.
	require.Len(t, run.Decisions, 2)
	require.Len(t, run.MappingFailures, 1)
	assert.Equal(t, "dec_bad", run.MappingFailures[0].DecisionID)

	require.Len(t, run.GateReport.Results, 2)
	// Only the buy becomes an order; the hold lands in skipped decisions.
	require.Len(t, run.Orders, 1)
	assert.Equal(t, "dec_buy", run.Orders[0].DecisionRecordID)
	require.Len(t, run.SkippedDecisions, 1)
	assert.Equal(t, "dec_hold", run.SkippedDecisions[0].DecisionID)

	// ExecuteProposed fills the proposal in the same pass.
	require.Len(t, run.ExecutedOrders, 1)
	assert.Equal(t, domain.OrderFilled, run.ExecutedOrders[0].StatusAfter)
	assert.NotEmpty(t, run.SimulationID)
	require.Len(t, run.AuditTrail, 1)
	assert.Equal(t, run.SimulationID, run.AuditTrail[0].SimulationID)

	// $100 sized at the robust-probability proxy, filled at 0.49.
	assert.InDelta(t, 100.0, run.PnL.GrossNotionalUSD, 1.0)
	require.Len(t, run.UpdatedBundle.Positions, 1)
	assert.Equal(t, domain.PositionLong, run.UpdatedBundle.Positions[0].Side)

	// The filled order is carried in the updated bundle.
	stored, ok := run.UpdatedBundle.OrderByID(run.Orders[0].ID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderFilled, stored.Status)
}

func TestRun_ProposalsHeldWithoutExecuteProposed(t *testing.T) {
	cfg := testConfig()
	cfg.Sim.ExecuteProposed = false
	p := New(cfg, nil, nil, nil)

	run, err := p.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Empty(t, run.ExecutedOrders)
	require.Len(t, run.SkippedOrders, 1)
	assert.Equal(t, sim.SkipAwaitingApproval, run.SkippedOrders[0].Reason)

	// The untouched proposal still joins the bundle for the next pass.
	stored, ok := run.UpdatedBundle.OrderByID(run.Orders[0].ID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderProposed, stored.Status)
}

func TestRun_UnknownPortfolioFails(t *testing.T) {
	p := New(testConfig(), nil, nil, nil)
	in := testInput()
	in.PortfolioID = "pf_missing"

	_, err := p.Run(context.Background(), in)
	require.Error(t, err)
	var lerr *domain.LinkageError
	assert.ErrorAs(t, err, &lerr)
}

func TestRun_ResumesPendingBundleOrder(t *testing.T) {
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	in := testInput()
	in.Candidates = nil

	// An earlier pass filled 60 of 100; the order, its execution, the
	// resulting position and its decision record all live in the bundle.
	in.Bundle.Orders = []domain.Order{{
		ID: "ord_pending", PortfolioID: "pf1", MarketID: "mkt1", OutcomeID: "tok_yes",
		Side: domain.SideBuy, OrderType: domain.OrderMarket, Quantity: 100,
		Status: domain.OrderSubmitted, DecisionRecordID: "dec_prev",
	}}
	in.Bundle.Executions = []domain.Execution{{
		ID: "exe_prev_1", OrderID: "ord_pending", Timestamp: now,
		FilledQuantity: 60, FilledPrice: 0.50,
	}}
	in.Bundle.Positions = []domain.Position{{
		ID: "pos_prev", PortfolioID: "pf1", MarketID: "mkt1", OutcomeID: "tok_yes",
		Side: domain.PositionLong, Size: 60, AvgEntryPrice: 0.50,
		MarkPrice: 0.50, Status: domain.PositionOpen,
	}}
	in.Bundle.DecisionRecords = []domain.DecisionRecord{{
		ID: "dec_prev", MarketID: "mkt1", OutcomeID: "tok_yes",
		ProposedAction: domain.ActionBuy, Confidence: 0.8,
	}}

	p := New(testConfig(), nil, nil, nil)
	run, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	// No candidates this pass, so the only activity is the resumed order
	// completing its remaining 40 at the 0.49 reference price.
	assert.Empty(t, run.Orders)
	require.Len(t, run.ExecutedOrders, 1)
	eo := run.ExecutedOrders[0]
	assert.Equal(t, "ord_pending", eo.OrderID)
	assert.InDelta(t, 40.0, eo.FilledQuantity, 1e-9)
	assert.Equal(t, domain.OrderFilled, eo.StatusAfter)

	stored, ok := run.UpdatedBundle.OrderByID("ord_pending")
	require.True(t, ok)
	assert.Equal(t, domain.OrderFilled, stored.Status)

	// (60×0.50 + 40×0.49) / 100 = 0.496
	require.Len(t, run.UpdatedBundle.Positions, 1)
	pos := run.UpdatedBundle.Positions[0]
	assert.InDelta(t, 100.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.496, pos.AvgEntryPrice, 1e-9)
}
