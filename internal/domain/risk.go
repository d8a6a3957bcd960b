package domain

import "time"

// Verdict is the gate's decision for a single candidate trading decision.
type Verdict string

const (
	VerdictAllow   Verdict = "allow"
	VerdictCaution Verdict = "caution"
	VerdictBlock   Verdict = "block"
)

// Gate reason tags. Reasons are recorded, never thrown: a risk violation is
// a first-class verdict.
const (
	ReasonNoActionRequired      = "no_action_required"
	ReasonRiskPolicyOK          = "risk_policy_ok"
	ReasonExceedsMaxPosition    = "exceeds_max_position_usd"
	ReasonExceedsDailyNotional  = "exceeds_max_daily_notional_usd"
	ReasonExceedsMarketExposure = "exceeds_market_concentration_limit"
	ReasonLowConfidence         = "low_decision_confidence"
	ReasonElevatedManipulation  = "elevated_manipulation_risk"
	ReasonRequiresHumanApproval = "policy_requires_human_approval"
	ReasonApprovedByHuman       = "human_approval_granted"
	ReasonMissingMicrostructure = "missing_microstructure_state"
)

// RiskPolicy is read-only limit configuration. One policy may govern many
// portfolios.
type RiskPolicy struct {
	ID                    string  `json:"id"`
	MaxPositionUSD        float64 `json:"max_position_usd"`
	MaxDailyNotionalUSD   float64 `json:"max_daily_notional_usd"`
	MaxMarketExposurePct  float64 `json:"max_market_exposure_pct"`
	StopLossPct           float64 `json:"stop_loss_pct"`
	RequiresHumanApproval bool    `json:"requires_human_approval"`
}

// GateResult is the per-decision output of the risk gate.
type GateResult struct {
	DecisionID                 string  `json:"decision_id"`
	MarketID                   string  `json:"market_id"`
	OutcomeID                  string  `json:"outcome_id"`
	PortfolioID                string  `json:"portfolio_id"`
	RiskPolicyID               string  `json:"risk_policy_id"`
	ProposedAction             Action  `json:"proposed_action"`
	PriceProxy                 float64 `json:"price_proxy"`
	ProposedNotionalUSD        float64 `json:"proposed_notional_usd"`
	ProposedQuantity           float64 `json:"proposed_quantity"`
	ProjectedMarketNotionalUSD float64 `json:"projected_market_notional_usd"`
	ProjectedDailyNotionalUSD  float64 `json:"projected_daily_notional_usd"`
	MarketNotionalLimitUSD     float64 `json:"market_notional_limit_usd"`
	DecisionConfidence         float64 `json:"decision_confidence"`
	RiskGate                   Verdict  `json:"risk_gate"`
	RequiresHumanApproval      bool     `json:"requires_human_approval"`
	RiskReasons                []string `json:"risk_reasons"`
}

// GateReport is the gate's output document for one evaluation window.
type GateReport struct {
	GeneratedAt  time.Time    `json:"generated_at"`
	PortfolioID  string       `json:"portfolio_id"`
	RiskPolicyID string       `json:"risk_policy_id"`
	Results      []GateResult `json:"gate_results"`
}

// ResultFor returns the gate result for a decision id, if present.
func (r GateReport) ResultFor(decisionID string) (GateResult, bool) {
	for _, res := range r.Results {
		if res.DecisionID == decisionID {
			return res, true
		}
	}
	return GateResult{}, false
}
