package domain

import (
	"fmt"
	"strings"
	"time"
)

// Action is the closed decision vocabulary. Anything outside this set is
// rejected at the mapper boundary instead of being coerced.
type Action string

const (
	ActionHold   Action = "hold"
	ActionBuy    Action = "buy"
	ActionSell   Action = "sell"
	ActionReduce Action = "reduce"
	ActionExit   Action = "exit"
)

// ParseAction validates a raw action string against the closed set.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionHold, ActionBuy, ActionSell, ActionReduce, ActionExit:
		return a, nil
	}
	return "", &ValidationError{Entity: "candidate_decision", Field: "proposed_action", Reason: fmt.Sprintf("unknown action %q", raw)}
}

// Actionable reports whether the action implies an order (everything but hold).
func (a Action) Actionable() bool {
	return a != ActionHold && a != ""
}

// OrderSide maps an actionable decision onto the order side used to express
// it against an existing long position: buy opens/adds, everything else sells.
func (a Action) OrderSide() OrderSide {
	if a == ActionBuy {
		return SideBuy
	}
	return SideSell
}

// CandidateDecision is the raw decision handed over by the upstream
// agent orchestration layer, before mapping and validation.
type CandidateDecision struct {
	DecisionID     string   `json:"decision_id"`
	MarketID       string   `json:"market_id"`
	OutcomeID      string   `json:"outcome_id"`
	ProposedAction string   `json:"proposed_action"`
	Confidence     float64  `json:"confidence"`
	ThesisSummary  string   `json:"thesis_summary"`
	EvidenceRefs   []string `json:"evidence_refs"`
	CreatedByAgent string   `json:"created_by_agent"`
}

// DecisionRecord is a persisted, validated trading decision. Immutable after
// creation; owned by the pipeline run that created it.
type DecisionRecord struct {
	ID             string    `json:"id"`
	MarketID       string    `json:"market_id"`
	OutcomeID      string    `json:"outcome_id"`
	Thesis         string    `json:"thesis"`
	Confidence     float64   `json:"confidence"`
	EvidenceRefs   []string  `json:"evidence_refs"`
	ProposedAction Action    `json:"proposed_action"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedByAgent string    `json:"created_by_agent"`
}
