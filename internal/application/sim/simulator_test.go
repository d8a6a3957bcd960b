package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

func simBundle() domain.ExecutionBundle {
	return domain.ExecutionBundle{
		PortfolioAccounts: []domain.PortfolioAccount{
			{ID: "pf1", BaseCurrency: "USD", Status: domain.PortfolioActive, RiskPolicyID: "rp1"},
		},
		RiskPolicies: []domain.RiskPolicy{
			{ID: "rp1", MaxPositionUSD: 1e6, MaxDailyNotionalUSD: 1e6, MaxMarketExposurePct: 1},
		},
	}
}

func approvedOrder(id string, side domain.OrderSide, qty float64) domain.Order {
	return domain.Order{
		ID:               id,
		PortfolioID:      "pf1",
		MarketID:         "m1",
		OutcomeID:        "o1",
		Side:             side,
		OrderType:        domain.OrderMarket,
		Quantity:         qty,
		Status:           domain.OrderApproved,
		DecisionRecordID: "dec_" + id,
	}
}

func decisionsFor(orders ...domain.Order) []domain.DecisionRecord {
	out := make([]domain.DecisionRecord, 0, len(orders))
	for _, o := range orders {
		action := domain.ActionBuy
		if o.Side == domain.SideSell {
			action = domain.ActionSell
		}
		out = append(out, domain.DecisionRecord{
			ID: o.DecisionRecordID, MarketID: o.MarketID, OutcomeID: o.OutcomeID,
			ProposedAction: action, Confidence: 0.8,
			EvidenceRefs: []string{"mms_" + o.OutcomeID},
		})
	}
	return out
}

func allowReport(decisions []domain.DecisionRecord) domain.GateReport {
	report := domain.GateReport{PortfolioID: "pf1", RiskPolicyID: "rp1"}
	for _, d := range decisions {
		report.Results = append(report.Results, domain.GateResult{
			DecisionID: d.ID, RiskGate: domain.VerdictAllow,
		})
	}
	return report
}

func TestRun_RatioFullFill(t *testing.T) {
	s := New(Config{FillModel: FillModelRatio, FillRatio: 1.0})
	order := approvedOrder("ord1", domain.SideBuy, 100)
	decisions := decisionsFor(order)

	res := s.Run(simBundle(), []domain.Order{order}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {ReferencePrice: 0.50}}, "pf1")

	require.Len(t, res.ExecutedOrders, 1)
	require.Len(t, res.Executions, 1)
	eo := res.ExecutedOrders[0]
	assert.Equal(t, domain.OrderFilled, eo.StatusAfter)
	assert.InDelta(t, 100.0, eo.FilledQuantity, 1e-9)
	// 5 bps default slippage on a buy: 0.50 × 1.0005 = 0.50025
	assert.InDelta(t, 0.50025, eo.AvgFilledPrice, 1e-9)
	// Fee: notional × 10 bps = 50.025 × 0.001 ≈ $0.050
	assert.InDelta(t, 0.050025, eo.FeeUSD, 1e-6)

	require.Len(t, res.Bundle.Positions, 1)
	pos := res.Bundle.Positions[0]
	assert.Equal(t, domain.PositionLong, pos.Side)
	assert.InDelta(t, 100.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.50025, pos.AvgEntryPrice, 1e-9)
	assert.Equal(t, domain.PositionOpen, pos.Status)
}

func TestRun_BookWalkAcrossLevels(t *testing.T) {
	s := New(Config{FillModel: FillModelBook, FeeBps: -1, SlippageBps: -1})
	order := approvedOrder("ord1", domain.SideBuy, 100)
	decisions := decisionsFor(order)
	liquidity := map[string]Liquidity{
		"o1": {ReferencePrice: 0.50, Levels: []domain.BookLevel{
			{Price: 0.50, Size: 60}, {Price: 0.52, Size: 100},
		}},
	}

	res := s.Run(simBundle(), []domain.Order{order}, decisions, allowReport(decisions), liquidity, "pf1")

	// One execution per level consumed: 60@0.50 then 40@0.52.
	require.Len(t, res.Executions, 2)
	assert.InDelta(t, 60.0, res.Executions[0].FilledQuantity, 1e-9)
	assert.InDelta(t, 0.50, res.Executions[0].FilledPrice, 1e-9)
	assert.InDelta(t, 40.0, res.Executions[1].FilledQuantity, 1e-9)
	assert.InDelta(t, 0.52, res.Executions[1].FilledPrice, 1e-9)

	eo := res.ExecutedOrders[0]
	assert.Equal(t, domain.OrderFilled, eo.StatusAfter)
	// VWAP: (60×0.50 + 40×0.52)/100 = 50.8/100 = 0.508
	assert.InDelta(t, 0.508, eo.AvgFilledPrice, 1e-9)

	// The second level keeps its remainder for the next order.
	assert.InDelta(t, 60.0, liquidity["o1"].Levels[0].Size, 1e-9)
	assert.InDelta(t, 0.52, liquidity["o1"].Levels[0].Price, 1e-9)
}

func TestRun_PartialFillStaysSubmitted(t *testing.T) {
	s := New(Config{FillModel: FillModelBook, FeeBps: -1})
	order := approvedOrder("ord1", domain.SideBuy, 100)
	decisions := decisionsFor(order)

	res := s.Run(simBundle(), []domain.Order{order}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {Levels: []domain.BookLevel{{Price: 0.50, Size: 60}}}}, "pf1")

	eo := res.ExecutedOrders[0]
	assert.InDelta(t, 60.0, eo.FilledQuantity, 1e-9)
	assert.Equal(t, domain.OrderSubmitted, eo.StatusAfter)

	stored, ok := res.Bundle.OrderByID("ord1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderSubmitted, stored.Status)
}

func TestRun_ResumedOrderFillsOnlyRemainder(t *testing.T) {
	s := New(Config{FillModel: FillModelBook, FeeBps: -1})
	order := approvedOrder("ord1", domain.SideBuy, 100)
	decisions := decisionsFor(order)
	report := allowReport(decisions)

	first := s.Run(simBundle(), []domain.Order{order}, decisions, report,
		map[string]Liquidity{"o1": {Levels: []domain.BookLevel{{Price: 0.50, Size: 60}}}}, "pf1")
	require.Equal(t, domain.OrderSubmitted, first.ExecutedOrders[0].StatusAfter)

	// Next pass starts from the updated bundle; only 40 remain to fill.
	resumed, ok := first.Bundle.OrderByID("ord1")
	require.True(t, ok)
	second := s.Run(first.Bundle, []domain.Order{resumed}, decisions, report,
		map[string]Liquidity{"o1": {Levels: []domain.BookLevel{{Price: 0.51, Size: 500}}}}, "pf1")

	require.Len(t, second.Executions, 1)
	assert.InDelta(t, 40.0, second.Executions[0].FilledQuantity, 1e-9)
	assert.Equal(t, domain.OrderFilled, second.ExecutedOrders[0].StatusAfter)

	// Total position: 60@0.50 + 40@0.51 → avg 0.504.
	require.Len(t, second.Bundle.Positions, 1)
	assert.InDelta(t, 100.0, second.Bundle.Positions[0].Size, 1e-9)
	assert.InDelta(t, 0.504, second.Bundle.Positions[0].AvgEntryPrice, 1e-9)

	// A third pass over the same filled order touches nothing.
	third := s.Run(second.Bundle, []domain.Order{resumed}, decisions, report,
		map[string]Liquidity{"o1": {Levels: []domain.BookLevel{{Price: 0.55, Size: 500}}}}, "pf1")
	assert.Empty(t, third.Executions)
	require.Len(t, third.SkippedOrders, 1)
	assert.Equal(t, SkipAlreadyFilled, third.SkippedOrders[0].Reason)
}

func TestRun_BuyThenSellRealizesPnL(t *testing.T) {
	s := New(Config{FillModel: FillModelRatio, FillRatio: 1.0, FeeBps: -1, SlippageBps: -1})
	buy := approvedOrder("ord_buy", domain.SideBuy, 100)
	sell := approvedOrder("ord_sell", domain.SideSell, 60)
	decisions := decisionsFor(buy, sell)
	report := allowReport(decisions)

	first := s.Run(simBundle(), []domain.Order{buy}, decisions, report,
		map[string]Liquidity{"o1": {ReferencePrice: 0.40}}, "pf1")
	second := s.Run(first.Bundle, []domain.Order{sell}, decisions, report,
		map[string]Liquidity{"o1": {ReferencePrice: 0.50}}, "pf1")

	// (0.50-0.40)×60 = $6 realized; 40 shares stay long at 0.40.
	assert.InDelta(t, 6.0, second.PnL.RealizedPnLUSD, 1e-9)
	require.Len(t, second.Bundle.Positions, 1)
	pos := second.Bundle.Positions[0]
	assert.InDelta(t, 40.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.40, pos.AvgEntryPrice, 1e-9)
	assert.Equal(t, domain.PositionOpen, pos.Status)
}

func TestRun_SellWithoutLongOpensShort(t *testing.T) {
	s := New(Config{FillModel: FillModelRatio, FillRatio: 1.0, FeeBps: -1, SlippageBps: -1})
	sell := approvedOrder("ord1", domain.SideSell, 50)
	decisions := decisionsFor(sell)

	res := s.Run(simBundle(), []domain.Order{sell}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {ReferencePrice: 0.60}}, "pf1")

	require.Len(t, res.Bundle.Positions, 1)
	pos := res.Bundle.Positions[0]
	assert.Equal(t, domain.PositionShort, pos.Side)
	assert.InDelta(t, 50.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.60, pos.AvgEntryPrice, 1e-9)
}

func TestRun_LimitPriceStopsTheWalk(t *testing.T) {
	s := New(Config{FillModel: FillModelBook, FeeBps: -1})
	order := approvedOrder("ord1", domain.SideBuy, 100)
	order.OrderType = domain.OrderLimit
	limit := 0.50
	order.LimitPrice = &limit
	decisions := decisionsFor(order)

	res := s.Run(simBundle(), []domain.Order{order}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {Levels: []domain.BookLevel{
			{Price: 0.50, Size: 60}, {Price: 0.52, Size: 100},
		}}}, "pf1")

	// Only the 0.50 level is within limit; the rest stays unfilled.
	require.Len(t, res.Executions, 1)
	assert.InDelta(t, 60.0, res.Executions[0].FilledQuantity, 1e-9)
	assert.Equal(t, domain.OrderSubmitted, res.ExecutedOrders[0].StatusAfter)
}

func TestRun_LiquiditySharedAcrossOrders(t *testing.T) {
	s := New(Config{FillModel: FillModelBook, FeeBps: -1})
	first := approvedOrder("ord1", domain.SideBuy, 60)
	second := approvedOrder("ord2", domain.SideBuy, 60)
	decisions := decisionsFor(first, second)

	res := s.Run(simBundle(), []domain.Order{first, second}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {Levels: []domain.BookLevel{{Price: 0.50, Size: 100}}}}, "pf1")

	require.Len(t, res.ExecutedOrders, 2)
	assert.Equal(t, domain.OrderFilled, res.ExecutedOrders[0].StatusAfter)
	// The second order competes for what the first left behind.
	assert.InDelta(t, 40.0, res.ExecutedOrders[1].FilledQuantity, 1e-9)
	assert.Equal(t, domain.OrderSubmitted, res.ExecutedOrders[1].StatusAfter)
}

func TestRun_SkipChain(t *testing.T) {
	s := New(Config{FillModel: FillModelRatio})

	rejected := approvedOrder("ord_rej", domain.SideBuy, 10)
	rejected.Status = domain.OrderRejected
	proposed := approvedOrder("ord_prop", domain.SideBuy, 10)
	proposed.Status = domain.OrderProposed
	foreign := approvedOrder("ord_foreign", domain.SideBuy, 10)
	foreign.PortfolioID = "pf_other"
	unlinked := approvedOrder("ord_unlinked", domain.SideBuy, 10)
	unlinked.DecisionRecordID = "dec_missing"

	decisions := decisionsFor(rejected, proposed, foreign)
	res := s.Run(simBundle(), []domain.Order{rejected, proposed, foreign, unlinked},
		decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {ReferencePrice: 0.50}}, "pf1")

	assert.Empty(t, res.ExecutedOrders)
	require.Len(t, res.SkippedOrders, 4)
	reasons := map[string]string{}
	for _, sk := range res.SkippedOrders {
		reasons[sk.OrderID] = sk.Reason
	}
	assert.Equal(t, SkipRejectedByGate, reasons["ord_rej"])
	assert.Equal(t, SkipAwaitingApproval, reasons["ord_prop"])
	assert.Equal(t, SkipPortfolioMismatch, reasons["ord_foreign"])
	assert.Equal(t, SkipMissingDecision, reasons["ord_unlinked"])
}

func TestRun_ExecuteProposedFlag(t *testing.T) {
	s := New(Config{FillModel: FillModelRatio, ExecuteProposed: true})
	order := approvedOrder("ord1", domain.SideBuy, 10)
	order.Status = domain.OrderProposed
	decisions := decisionsFor(order)

	res := s.Run(simBundle(), []domain.Order{order}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {ReferencePrice: 0.50}}, "pf1")
	require.Len(t, res.ExecutedOrders, 1)
	assert.Equal(t, domain.OrderFilled, res.ExecutedOrders[0].StatusAfter)
}

func TestRun_DuplicateOrderInPass(t *testing.T) {
	s := New(Config{FillModel: FillModelRatio})
	order := approvedOrder("ord1", domain.SideBuy, 10)
	decisions := decisionsFor(order)

	res := s.Run(simBundle(), []domain.Order{order, order}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {ReferencePrice: 0.50}}, "pf1")
	assert.Len(t, res.ExecutedOrders, 1)
	require.Len(t, res.SkippedOrders, 1)
	assert.Equal(t, SkipDuplicateOrderPass, res.SkippedOrders[0].Reason)
}

func TestRun_AuditTrailLinksEverything(t *testing.T) {
	s := New(Config{FillModel: FillModelRatio})
	order := approvedOrder("ord1", domain.SideBuy, 10)
	decisions := decisionsFor(order)

	res := s.Run(simBundle(), []domain.Order{order}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {ReferencePrice: 0.50}}, "pf1")

	require.Len(t, res.AuditTrail, 1)
	entry := res.AuditTrail[0]
	assert.Equal(t, res.Executions[0].ID, entry.ExecutionID)
	assert.Equal(t, "ord1", entry.OrderID)
	assert.Equal(t, "dec_ord1", entry.DecisionRecordID)
	assert.Equal(t, []string{"mms_o1"}, entry.EvidenceRefs)
	assert.Equal(t, domain.VerdictAllow, entry.RiskGate)
}

func TestRun_BundleProposedOrderFillsToFilled(t *testing.T) {
	s := New(Config{FillModel: FillModelRatio, FillRatio: 1.0, FeeBps: -1, SlippageBps: -1, ExecuteProposed: true})
	order := approvedOrder("ord1", domain.SideBuy, 100)
	order.Status = domain.OrderProposed
	bundle := simBundle()
	bundle.Orders = append(bundle.Orders, order)
	decisions := decisionsFor(order)

	res := s.Run(bundle, []domain.Order{order}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {ReferencePrice: 0.50}}, "pf1")

	require.Len(t, res.Executions, 1)
	require.Len(t, res.ExecutedOrders, 1)
	assert.Equal(t, domain.OrderFilled, res.ExecutedOrders[0].StatusAfter)

	// The bundle-resident record advances through submitted to filled, so
	// the recorded execution never points at a proposed order.
	stored, ok := res.Bundle.OrderByID("ord1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderFilled, stored.Status)

	// Done means done: nothing left for a later pass to resume.
	assert.Empty(t, res.Bundle.PendingOrders("pf1"))
}

func TestAdvanceStatus(t *testing.T) {
	assert.Equal(t, domain.OrderFilled, advanceStatus(domain.OrderProposed, domain.OrderFilled))
	assert.Equal(t, domain.OrderFilled, advanceStatus(domain.OrderApproved, domain.OrderFilled))
	assert.Equal(t, domain.OrderSubmitted, advanceStatus(domain.OrderProposed, domain.OrderSubmitted))
	assert.Equal(t, domain.OrderFilled, advanceStatus(domain.OrderSubmitted, domain.OrderFilled))
	// No backward moves.
	assert.Equal(t, domain.OrderFilled, advanceStatus(domain.OrderFilled, domain.OrderSubmitted))
	assert.Equal(t, domain.OrderRejected, advanceStatus(domain.OrderRejected, domain.OrderFilled))
}

func TestRun_ConflictingOrderRecordFreezesPair(t *testing.T) {
	s := New(Config{FillModel: FillModelRatio, FillRatio: 1.0, FeeBps: -1, SlippageBps: -1})
	first := approvedOrder("ord1", domain.SideBuy, 100)
	second := approvedOrder("ord2", domain.SideBuy, 50)
	decisions := decisionsFor(first, second)

	// The bundle's own record of ord1 disagrees on side: replaying the
	// persisted executions derives a short where the incremental book went
	// long, so the audit freezes the pair.
	corrupted := first
	corrupted.Side = domain.SideSell
	bundle := simBundle()
	bundle.Orders = append(bundle.Orders, corrupted)

	res := s.Run(bundle, []domain.Order{first, second}, decisions, allowReport(decisions),
		map[string]Liquidity{"o1": {ReferencePrice: 0.50}}, "pf1")

	// ord1 executed before the mismatch surfaced; ord2 is refused.
	require.Len(t, res.Executions, 1)
	require.Len(t, res.ExecutedOrders, 1)
	assert.Equal(t, "ord1", res.ExecutedOrders[0].OrderID)
	require.Len(t, res.SkippedOrders, 1)
	assert.Equal(t, "ord2", res.SkippedOrders[0].OrderID)
	assert.Equal(t, SkipReplayMismatch, res.SkippedOrders[0].Reason)
}
