package mapper

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// Mapper turns candidate decisions from the upstream agent layer into
// persisted DecisionRecords, validating action vocabulary and ontology
// linkage on the way. Pure transform plus timestamping and id assignment.
type Mapper struct {
	markets  map[string]domain.Market
	outcomes map[string]domain.Outcome
	now      func() time.Time
}

// New creates a Mapper that resolves linkage against the given markets.
func New(markets []domain.Market) *Mapper {
	m := &Mapper{
		markets:  make(map[string]domain.Market, len(markets)),
		outcomes: make(map[string]domain.Outcome),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
	for _, mk := range markets {
		m.markets[mk.ID] = mk
		for _, o := range mk.Outcomes {
			m.outcomes[o.ID] = o
		}
	}
	return m
}

// Map validates and converts one candidate decision. The microstructure
// state enriches the thesis; nil state is allowed and leaves the thesis as
// the candidate's own summary.
func (m *Mapper) Map(c domain.CandidateDecision, state *domain.MarketMicrostructureState) (domain.DecisionRecord, error) {
	action, err := domain.ParseAction(c.ProposedAction)
	if err != nil {
		return domain.DecisionRecord{}, err
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return domain.DecisionRecord{}, &domain.ValidationError{
			Entity: "candidate_decision",
			Field:  "confidence",
			Reason: fmt.Sprintf("%.4f outside [0,1]", c.Confidence),
		}
	}
	if c.MarketID == "" {
		return domain.DecisionRecord{}, &domain.ValidationError{
			Entity: "candidate_decision", Field: "market_id", Reason: "missing required id",
		}
	}
	if c.OutcomeID == "" {
		return domain.DecisionRecord{}, &domain.ValidationError{
			Entity: "candidate_decision", Field: "outcome_id", Reason: "missing required id",
		}
	}
	if _, ok := m.markets[c.MarketID]; !ok {
		return domain.DecisionRecord{}, &domain.LinkageError{
			Entity: "candidate_decision", ID: c.DecisionID, Kind: "market", Ref: c.MarketID,
		}
	}
	outcome, ok := m.outcomes[c.OutcomeID]
	if !ok || outcome.MarketID != c.MarketID {
		return domain.DecisionRecord{}, &domain.LinkageError{
			Entity: "candidate_decision", ID: c.DecisionID, Kind: "outcome", Ref: c.OutcomeID,
		}
	}

	id := c.DecisionID
	if id == "" {
		id = "dec_" + uuid.New().String()
	}
	agent := c.CreatedByAgent
	if agent == "" {
		agent = "strategy_agent"
	}
	return domain.DecisionRecord{
		ID:             id,
		MarketID:       c.MarketID,
		OutcomeID:      c.OutcomeID,
		Thesis:         buildThesis(c, state),
		Confidence:     c.Confidence,
		EvidenceRefs:   append([]string(nil), c.EvidenceRefs...),
		ProposedAction: action,
		CreatedAt:      m.now(),
		CreatedByAgent: agent,
	}, nil
}

// MapAll maps a batch, collecting per-record failures instead of aborting.
// States are keyed by outcome id.
func (m *Mapper) MapAll(candidates []domain.CandidateDecision, states map[string]domain.MarketMicrostructureState) ([]domain.DecisionRecord, []domain.MappingFailure) {
	records := make([]domain.DecisionRecord, 0, len(candidates))
	var failures []domain.MappingFailure
	for _, c := range candidates {
		var state *domain.MarketMicrostructureState
		if s, ok := states[c.OutcomeID]; ok {
			state = &s
		}
		rec, err := m.Map(c, state)
		if err != nil {
			slog.Warn("decision mapping failed",
				"decision_id", c.DecisionID,
				"market_id", c.MarketID,
				"outcome_id", c.OutcomeID,
				"err", err,
			)
			failures = append(failures, domain.MappingFailure{
				DecisionID: c.DecisionID,
				MarketID:   c.MarketID,
				OutcomeID:  c.OutcomeID,
				Reason:     err.Error(),
			})
			continue
		}
		records = append(records, rec)
	}
	return records, failures
}

// buildThesis composes the audit thesis from the candidate summary and the
// microstructure evidence backing it.
func buildThesis(c domain.CandidateDecision, state *domain.MarketMicrostructureState) string {
	parts := []string{strings.TrimSpace(c.ThesisSummary)}
	if state != nil {
		parts = append(parts,
			fmt.Sprintf("robust_probability=%.6f", state.RobustProbability),
			fmt.Sprintf("displayed_probability=%.6f source=%s", state.DisplayedProbability, state.DisplayPriceSource),
			fmt.Sprintf("manipulation_risk=%.6f", state.ManipulationRiskScore),
		)
		if len(state.ExplanatoryTags) > 0 {
			parts = append(parts, "signal_tags="+strings.Join(state.ExplanatoryTags, ","))
		}
	}
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "; ")
}
