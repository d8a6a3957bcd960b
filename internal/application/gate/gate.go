package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polypipe/internal/domain"
	"github.com/alejandrodnm/polypipe/internal/ports"
)

// Sizing selects how a decision's implied notional is derived from the
// configured base size. The exact curve is policy, not a constant.
type Sizing string

const (
	// SizingFixed commits the full base notional per actionable decision.
	SizingFixed Sizing = "fixed"
	// SizingConfidenceScaled commits base notional scaled linearly by
	// decision confidence.
	SizingConfidenceScaled Sizing = "confidence_scaled"
)

// Config holds gate policy knobs that sit outside the RiskPolicy itself.
type Config struct {
	DefaultOrderSizeUSD       float64
	SizingMode                Sizing
	MinConfidence             float64
	ManipulationRiskThreshold float64
}

// DefaultConfig returns conservative gate defaults.
func DefaultConfig() Config {
	return Config{
		DefaultOrderSizeUSD:       500,
		SizingMode:                SizingFixed,
		MinConfidence:             0.35,
		ManipulationRiskThreshold: 0.70,
	}
}

// Gate evaluates decision sequences against one RiskPolicy and the current
// portfolio state. It is the only stateful stage before the simulator: the
// daily-notional accumulator makes decision order significant, and the
// accumulator is partitioned per portfolio so mixed batches never share
// running totals.
type Gate struct {
	cfg       Config
	approvals ports.ApprovalSource
	daily     map[string]float64 // portfolio id → notional committed so far
	now       func() time.Time
}

// New creates a Gate. approvals may be nil when no external approval
// channel exists; pending approvals then stay caution.
func New(cfg Config, approvals ports.ApprovalSource) *Gate {
	def := DefaultConfig()
	if cfg.DefaultOrderSizeUSD <= 0 {
		cfg.DefaultOrderSizeUSD = def.DefaultOrderSizeUSD
	}
	if cfg.SizingMode == "" {
		cfg.SizingMode = def.SizingMode
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.ManipulationRiskThreshold <= 0 {
		cfg.ManipulationRiskThreshold = def.ManipulationRiskThreshold
	}
	return &Gate{
		cfg:       cfg,
		approvals: approvals,
		daily:     make(map[string]float64),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Evaluate gates an ordered decision sequence for one portfolio. States are
// keyed by outcome id. The portfolio's accumulator is seeded once from the
// bundle's execution history and carried across Evaluate calls within the
// same gate instance (one instance per evaluation window).
func (g *Gate) Evaluate(
	ctx context.Context,
	bundle domain.ExecutionBundle,
	portfolioID string,
	decisions []domain.DecisionRecord,
	states map[string]domain.MarketMicrostructureState,
) (domain.GateReport, error) {
	portfolio, ok := bundle.PortfolioByID(portfolioID)
	if !ok {
		return domain.GateReport{}, &domain.LinkageError{
			Entity: "gate_evaluation", ID: portfolioID, Kind: "portfolio_account", Ref: portfolioID,
		}
	}
	policy, ok := bundle.PolicyByID(portfolio.RiskPolicyID)
	if !ok {
		return domain.GateReport{}, &domain.LinkageError{
			Entity: "portfolio_account", ID: portfolioID, Kind: "risk_policy", Ref: portfolio.RiskPolicyID,
		}
	}

	if _, seeded := g.daily[portfolioID]; !seeded {
		g.daily[portfolioID] = bundle.DailyNotional(portfolioID)
	}
	marketNotional := bundle.PositionNotionalByMarket(portfolioID)
	marketLimit := policy.MaxDailyNotionalUSD * policy.MaxMarketExposurePct

	report := domain.GateReport{
		GeneratedAt:  g.now(),
		PortfolioID:  portfolioID,
		RiskPolicyID: policy.ID,
	}

	for _, dec := range decisions {
		res := g.evaluateOne(ctx, dec, policy, states, marketNotional, marketLimit, portfolioID)
		report.Results = append(report.Results, res)

		// Only committed notional consumes the caps: blocked decisions
		// leave the accumulator untouched so later decisions still fit.
		if res.RiskGate != domain.VerdictBlock && dec.ProposedAction.Actionable() {
			g.daily[portfolioID] += res.ProposedNotionalUSD
			marketNotional[dec.MarketID] += res.ProposedNotionalUSD
		}
	}

	slog.Info("risk gate evaluated",
		"portfolio_id", portfolioID,
		"policy_id", policy.ID,
		"decisions", len(decisions),
		"daily_notional", fmt.Sprintf("$%.2f", g.daily[portfolioID]),
	)
	return report, nil
}

func (g *Gate) evaluateOne(
	ctx context.Context,
	dec domain.DecisionRecord,
	policy domain.RiskPolicy,
	states map[string]domain.MarketMicrostructureState,
	marketNotional map[string]float64,
	marketLimit float64,
	portfolioID string,
) domain.GateResult {
	res := domain.GateResult{
		DecisionID:         dec.ID,
		MarketID:           dec.MarketID,
		OutcomeID:          dec.OutcomeID,
		PortfolioID:        portfolioID,
		RiskPolicyID:       policy.ID,
		ProposedAction:     dec.ProposedAction,
		DecisionConfidence: dec.Confidence,
	}

	if !dec.ProposedAction.Actionable() {
		res.RiskGate = domain.VerdictAllow
		res.RiskReasons = []string{domain.ReasonNoActionRequired}
		return res
	}

	state, hasState := states[dec.OutcomeID]
	res.PriceProxy = priceProxy(state, hasState)
	res.ProposedNotionalUSD = g.impliedNotional(dec.Confidence)
	if res.PriceProxy > 0 {
		res.ProposedQuantity = res.ProposedNotionalUSD / res.PriceProxy
	}
	res.ProjectedMarketNotionalUSD = marketNotional[dec.MarketID] + res.ProposedNotionalUSD
	res.ProjectedDailyNotionalUSD = g.daily[portfolioID] + res.ProposedNotionalUSD
	res.MarketNotionalLimitUSD = marketLimit

	var blockReasons, cautionReasons []string
	if res.ProjectedMarketNotionalUSD > policy.MaxPositionUSD {
		blockReasons = append(blockReasons, domain.ReasonExceedsMaxPosition)
	}
	if res.ProjectedDailyNotionalUSD > policy.MaxDailyNotionalUSD {
		blockReasons = append(blockReasons, domain.ReasonExceedsDailyNotional)
	}
	if res.ProjectedMarketNotionalUSD > marketLimit {
		blockReasons = append(blockReasons, domain.ReasonExceedsMarketExposure)
	}

	if dec.Confidence < g.cfg.MinConfidence {
		cautionReasons = append(cautionReasons, domain.ReasonLowConfidence)
	}
	if hasState {
		if state.ManipulationRiskScore > g.cfg.ManipulationRiskThreshold {
			cautionReasons = append(cautionReasons, domain.ReasonElevatedManipulation)
		}
	} else {
		cautionReasons = append(cautionReasons, domain.ReasonMissingMicrostructure)
	}

	if len(blockReasons) > 0 {
		res.RiskGate = domain.VerdictBlock
		res.RiskReasons = append(blockReasons, cautionReasons...)
		res.RequiresHumanApproval = policy.RequiresHumanApproval
		return res
	}

	if policy.RequiresHumanApproval {
		if g.approved(ctx, dec.ID) {
			cautionReasons = append(cautionReasons, domain.ReasonApprovedByHuman)
		} else {
			cautionReasons = append(cautionReasons, domain.ReasonRequiresHumanApproval)
			res.RequiresHumanApproval = true
		}
	}

	if len(cautionReasons) > 0 && (res.RequiresHumanApproval || hasCautionCause(cautionReasons)) {
		res.RiskGate = domain.VerdictCaution
		res.RiskReasons = cautionReasons
		return res
	}

	res.RiskGate = domain.VerdictAllow
	if len(cautionReasons) > 0 {
		res.RiskReasons = append(cautionReasons, domain.ReasonRiskPolicyOK)
	} else {
		res.RiskReasons = []string{domain.ReasonRiskPolicyOK}
	}
	return res
}

// hasCautionCause reports whether any reason other than a granted approval
// is present: an approval on its own must not downgrade the verdict.
func hasCautionCause(reasons []string) bool {
	for _, r := range reasons {
		if r != domain.ReasonApprovedByHuman {
			return true
		}
	}
	return false
}

func (g *Gate) approved(ctx context.Context, decisionID string) bool {
	if g.approvals == nil {
		return false
	}
	ok, err := g.approvals.Approved(ctx, decisionID)
	if err != nil {
		slog.Warn("approval lookup failed", "decision_id", decisionID, "err", err)
		return false
	}
	return ok
}

// impliedNotional applies the configured sizing curve.
func (g *Gate) impliedNotional(confidence float64) float64 {
	if g.cfg.SizingMode == SizingConfidenceScaled {
		return g.cfg.DefaultOrderSizeUSD * domain.ClampProbability(confidence)
	}
	return g.cfg.DefaultOrderSizeUSD
}

// priceProxy picks the best probability estimate available as the price
// reference for quantity sizing.
func priceProxy(state domain.MarketMicrostructureState, hasState bool) float64 {
	if hasState {
		if state.RobustProbability > 0 {
			return state.RobustProbability
		}
		if state.DisplayedProbability > 0 {
			return state.DisplayedProbability
		}
	}
	return 0.5
}
