package domain

import "time"

// MappingFailure reports one candidate decision the mapper rejected.
type MappingFailure struct {
	DecisionID string `json:"decision_id"`
	MarketID   string `json:"market_id"`
	OutcomeID  string `json:"outcome_id"`
	Reason     string `json:"reason"`
}

// SkippedDecision records why a decision produced no order: hold actions,
// block verdicts, and caution verdicts without an override all land here
// with their reasons preserved for audit.
type SkippedDecision struct {
	DecisionID string   `json:"decision_id"`
	MarketID   string   `json:"market_id,omitempty"`
	OutcomeID  string   `json:"outcome_id,omitempty"`
	RiskGate   Verdict  `json:"risk_gate,omitempty"`
	Reasons    []string `json:"reasons"`
}

// AuditEntry links one execution back to its order, decision, and evidence.
type AuditEntry struct {
	ExecutionID           string   `json:"execution_id"`
	OrderID               string   `json:"order_id"`
	DecisionRecordID      string   `json:"decision_record_id"`
	EvidenceRefs          []string `json:"evidence_refs"`
	SimulationID          string   `json:"simulation_id"`
	RiskGate              Verdict  `json:"risk_gate,omitempty"`
	RequiresHumanApproval bool     `json:"requires_human_approval"`
}

// ExecutedOrder summarizes one order's outcome in a simulation pass.
type ExecutedOrder struct {
	OrderID          string      `json:"order_id"`
	DecisionRecordID string      `json:"decision_record_id"`
	ExecutionIDs     []string    `json:"execution_ids"`
	FilledQuantity   float64     `json:"filled_quantity"`
	AvgFilledPrice   float64     `json:"avg_filled_price"`
	NotionalUSD      float64     `json:"notional_usd"`
	FeeUSD           float64     `json:"fee_usd"`
	StatusAfter      OrderStatus `json:"order_status_after_simulation"`
}

// SkippedOrder records an order the simulator refused to touch.
type SkippedOrder struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PnLSummary aggregates the money outcome of one simulation pass.
type PnLSummary struct {
	GrossNotionalUSD      float64 `json:"gross_notional_usd"`
	FeeUSD                float64 `json:"fee_usd"`
	RealizedPnLUSD        float64 `json:"realized_pnl_usd"`
	NetRealizedPnLUSD     float64 `json:"net_realized_pnl_usd"`
	TotalUnrealizedPnLUSD float64 `json:"total_unrealized_pnl_usd"`
	OpenPositions         int     `json:"open_positions"`
	ClosedPositions       int     `json:"closed_positions"`
}

// PipelineRun is everything one batch pass produced, in pipeline order.
type PipelineRun struct {
	ID               string                      `json:"id"`
	GeneratedAt      time.Time                   `json:"generated_at"`
	PortfolioID      string                      `json:"portfolio_id"`
	RiskPolicyID     string                      `json:"risk_policy_id"`
	States           []MarketMicrostructureState `json:"microstructure_states"`
	Decisions        []DecisionRecord            `json:"decision_records"`
	MappingFailures  []MappingFailure            `json:"mapping_failures,omitempty"`
	GateReport       GateReport                  `json:"gate_report"`
	Orders           []Order                     `json:"orders"`
	SkippedDecisions []SkippedDecision           `json:"skipped_decisions"`
	SimulationID     string                      `json:"simulation_id"`
	ExecutedOrders   []ExecutedOrder             `json:"executed_orders"`
	SkippedOrders    []SkippedOrder              `json:"skipped_orders"`
	Executions       []Execution                 `json:"executions"`
	AuditTrail       []AuditEntry                `json:"execution_audit_trail"`
	PositionUpdates  []Position                  `json:"position_updates"`
	PnL              PnLSummary                  `json:"pnl_summary"`
	UpdatedBundle    ExecutionBundle             `json:"updated_execution_bundle"`
}
