package bundle

import (
	"time"

	"github.com/alejandrodnm/polypipe/internal/application/analyzer"
	"github.com/alejandrodnm/polypipe/internal/application/sim"
	"github.com/alejandrodnm/polypipe/internal/domain"
)

// AgentContext is the input document from the upstream agent layer: the
// market ontology plus the decisions proposed against it.
type AgentContext struct {
	PortfolioID      string                     `json:"portfolio_id"`
	Markets          []domain.Market            `json:"markets"`
	Candidates       []domain.CandidateDecision `json:"candidate_decisions"`
	CautionOverrides []string                   `json:"caution_overrides,omitempty"`
}

// Overrides returns the caution overrides as a lookup set.
func (c AgentContext) Overrides() map[string]bool {
	if len(c.CautionOverrides) == 0 {
		return nil
	}
	out := make(map[string]bool, len(c.CautionOverrides))
	for _, id := range c.CautionOverrides {
		out[id] = true
	}
	return out
}

// OutcomeLiquidity is the captured fillable depth for one outcome, already
// oriented to the taker side.
type OutcomeLiquidity struct {
	OutcomeID      string             `json:"outcome_id"`
	ReferencePrice float64            `json:"reference_price"`
	Levels         []domain.BookLevel `json:"levels,omitempty"`
}

// MarketData is the raw capture document for one analysis window: order
// book snapshots, trade prints, and optional execution liquidity.
type MarketData struct {
	AsOf      time.Time                  `json:"as_of"`
	SourceID  string                     `json:"source_id"`
	Books     []domain.OrderBookSnapshot `json:"order_books"`
	Trades    []domain.TradePrint        `json:"trade_prints"`
	Liquidity []OutcomeLiquidity         `json:"liquidity,omitempty"`
}

// AnalyzerInputs joins the capture document with the ontology into one
// analyzer input per outcome. Outcomes with neither book nor trades still
// get an input so the fallback prior produces a state.
func AnalyzerInputs(ctx AgentContext, md MarketData) []analyzer.Input {
	booksByOutcome := make(map[string]*domain.OrderBookSnapshot, len(md.Books))
	for i := range md.Books {
		booksByOutcome[md.Books[i].OutcomeID] = &md.Books[i]
	}
	tradesByOutcome := make(map[string][]domain.TradePrint)
	for _, t := range md.Trades {
		tradesByOutcome[t.OutcomeID] = append(tradesByOutcome[t.OutcomeID], t)
	}

	var inputs []analyzer.Input
	for _, mk := range ctx.Markets {
		for _, o := range mk.Outcomes {
			inputs = append(inputs, analyzer.Input{
				Outcome:  o,
				Snapshot: booksByOutcome[o.ID],
				Trades:   tradesByOutcome[o.ID],
				SourceID: md.SourceID,
				AsOf:     md.AsOf,
			})
		}
	}
	return inputs
}

// LiquidityMap converts the capture document's liquidity entries for the
// simulator. Outcomes without an explicit entry fall back to the book
// midpoint as reference price with no walkable depth.
func (md MarketData) LiquidityMap() map[string]sim.Liquidity {
	out := make(map[string]sim.Liquidity, len(md.Liquidity))
	for _, l := range md.Liquidity {
		out[l.OutcomeID] = sim.Liquidity{ReferencePrice: l.ReferencePrice, Levels: l.Levels}
	}
	for i := range md.Books {
		b := md.Books[i]
		if _, ok := out[b.OutcomeID]; ok {
			continue
		}
		if mid := b.Midpoint(); mid > 0 {
			out[b.OutcomeID] = sim.Liquidity{ReferencePrice: mid}
		}
	}
	return out
}

// DecisionRecordsPayload is the mapper stage's output document.
type DecisionRecordsPayload struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Decisions   []domain.DecisionRecord `json:"decision_records"`
	Failures    []domain.MappingFailure `json:"mapping_failures,omitempty"`
}

// MicrostructurePayload is the analyzer stage's output document.
type MicrostructurePayload struct {
	GeneratedAt time.Time                          `json:"generated_at"`
	States      []domain.MarketMicrostructureState `json:"microstructure_states"`
}

// OrderProposalsPayload is the builder stage's output document.
type OrderProposalsPayload struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Orders      []domain.Order           `json:"order_proposals"`
	Skipped     []domain.SkippedDecision `json:"skipped_decisions"`
}

// PaperTradingPayload is the simulator stage's output document, including
// the updated execution bundle for the next pass.
type PaperTradingPayload struct {
	SimulationID    string                 `json:"simulation_id"`
	GeneratedAt     time.Time              `json:"generated_at"`
	ExecutedOrders  []domain.ExecutedOrder `json:"executed_orders"`
	SkippedOrders   []domain.SkippedOrder  `json:"skipped_orders"`
	Executions      []domain.Execution     `json:"executions"`
	AuditTrail      []domain.AuditEntry    `json:"execution_audit_trail"`
	PositionUpdates []domain.Position      `json:"position_updates"`
	PnL             domain.PnLSummary      `json:"pnl_summary"`
	UpdatedBundle   domain.ExecutionBundle `json:"updated_execution_bundle"`
}
