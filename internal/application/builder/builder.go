package builder

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// Skip reasons recorded alongside the gate's own verdict reasons.
const (
	ReasonHoldDecision      = "hold_decision"
	ReasonBlockedByGate     = "blocked_by_risk_gate"
	ReasonCautionNoOverride = "caution_without_override"
	ReasonMissingGateResult = "missing_gate_result"
	ReasonNonPositiveQty    = "non_positive_quantity"
)

// Config controls order construction.
type Config struct {
	OrderType domain.OrderType
	// AllowCautionOverride lets caution decisions carrying an explicit
	// per-decision override become orders. Without it every caution
	// decision is skipped.
	AllowCautionOverride bool
}

// DefaultConfig proposes limit orders and honors explicit overrides.
func DefaultConfig() Config {
	return Config{OrderType: domain.OrderLimit, AllowCautionOverride: true}
}

// Builder converts gate-approved decisions into order proposals. Sizing is
// deterministic: the quantity comes straight from the gate result, which
// derived it from decision confidence and the policy sizing rule.
type Builder struct {
	cfg Config
}

// New creates a Builder.
func New(cfg Config) *Builder {
	if cfg.OrderType == "" {
		cfg.OrderType = domain.OrderLimit
	}
	return &Builder{cfg: cfg}
}

// Build walks decisions in sequence order and emits an Order (status
// proposed) for each allowed actionable decision. Everything else lands in
// the skipped list with its reasons preserved for audit. overrides holds
// decision ids carrying an explicit caution override; nil means none.
func (b *Builder) Build(
	decisions []domain.DecisionRecord,
	report domain.GateReport,
	overrides map[string]bool,
) ([]domain.Order, []domain.SkippedDecision) {
	orders := make([]domain.Order, 0, len(decisions))
	var skipped []domain.SkippedDecision

	for _, dec := range decisions {
		res, ok := report.ResultFor(dec.ID)
		if !ok {
			skipped = append(skipped, skip(dec, "", ReasonMissingGateResult))
			slog.Warn("decision has no gate result", "decision_id", dec.ID)
			continue
		}

		// Holds never become orders, whatever the verdict says.
		if !dec.ProposedAction.Actionable() {
			skipped = append(skipped, skip(dec, res.RiskGate, ReasonHoldDecision))
			continue
		}

		switch res.RiskGate {
		case domain.VerdictBlock:
			skipped = append(skipped, skip(dec, res.RiskGate, append([]string{ReasonBlockedByGate}, res.RiskReasons...)...))
			continue
		case domain.VerdictCaution:
			if !b.cfg.AllowCautionOverride || !overrides[dec.ID] {
				skipped = append(skipped, skip(dec, res.RiskGate, append([]string{ReasonCautionNoOverride}, res.RiskReasons...)...))
				continue
			}
		}

		order, err := b.buildOrder(dec, res)
		if err != nil {
			skipped = append(skipped, skip(dec, res.RiskGate, ReasonNonPositiveQty))
			slog.Warn("order construction failed", "decision_id", dec.ID, "err", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, skipped
}

func (b *Builder) buildOrder(dec domain.DecisionRecord, res domain.GateResult) (domain.Order, error) {
	if !dec.ProposedAction.Actionable() {
		// Contract: a hold decision must never synthesize an order.
		return domain.Order{}, fmt.Errorf("builder.buildOrder: refusing to build order from %q decision %s", dec.ProposedAction, dec.ID)
	}
	if res.ProposedQuantity <= 0 {
		return domain.Order{}, fmt.Errorf("builder.buildOrder: non-positive quantity %.6f for decision %s", res.ProposedQuantity, dec.ID)
	}

	order := domain.Order{
		ID:               "ord_" + uuid.New().String(),
		PortfolioID:      res.PortfolioID,
		MarketID:         dec.MarketID,
		OutcomeID:        dec.OutcomeID,
		Side:             dec.ProposedAction.OrderSide(),
		OrderType:        b.cfg.OrderType,
		Quantity:         res.ProposedQuantity,
		Status:           domain.OrderProposed,
		DecisionRecordID: dec.ID,
	}
	if b.cfg.OrderType == domain.OrderLimit && res.PriceProxy > 0 {
		price := res.PriceProxy
		order.LimitPrice = &price
	}
	return order, nil
}

func skip(dec domain.DecisionRecord, verdict domain.Verdict, reasons ...string) domain.SkippedDecision {
	return domain.SkippedDecision{
		DecisionID: dec.ID,
		MarketID:   dec.MarketID,
		OutcomeID:  dec.OutcomeID,
		RiskGate:   verdict,
		Reasons:    reasons,
	}
}
