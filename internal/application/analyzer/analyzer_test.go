package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

var testTime = time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

func outcome(id, marketID string, fallback float64) domain.Outcome {
	return domain.Outcome{ID: id, MarketID: marketID, Label: "Yes", FallbackProbability: fallback}
}

func TestAnalyze_HealthyBook(t *testing.T) {
	a := New(Config{})
	state, err := a.Analyze(Input{
		Outcome: outcome("tok1", "mkt1", 0.50),
		Snapshot: &domain.OrderBookSnapshot{
			MarketID:  "mkt1",
			OutcomeID: "tok1",
			Timestamp: testTime,
			Bids:      []domain.BookLevel{{Price: 0.48, Size: 4000}, {Price: 0.47, Size: 3000}},
			Asks:      []domain.BookLevel{{Price: 0.50, Size: 4200}, {Price: 0.51, Size: 2500}},
		},
		Trades: []domain.TradePrint{
			{ID: "t1", OutcomeID: "tok1", Price: 0.49, Size: 800, Timestamp: testTime},
		},
		SourceID: "capture_1",
	})
	require.NoError(t, err)

	// Tight spread (0.02) → quoted mid is the displayed price.
	assert.Equal(t, domain.SourceMidpoint, state.DisplayPriceSource)
	assert.InDelta(t, 0.49, state.DisplayedProbability, 0.0001)

	// Deep two-sided book with a confirming trade: reliable, low risk.
	assert.Greater(t, state.BookReliabilityScore, 0.80)
	assert.Greater(t, state.TradeReliabilityScore, 0.80)
	assert.Less(t, state.ManipulationRiskScore, 0.20)
	assert.True(t, state.HasTag(domain.TagTradeConfirmed))
	assert.True(t, state.HasTag(domain.TagReliableSignal))
	assert.True(t, state.HasTag(domain.TagDeepBook))

	// All anchors sit at ≈0.49, so the blend cannot drift from it.
	assert.InDelta(t, 0.49, state.RobustProbability, 0.02)
	assert.InDelta(t, 1.0, state.SignalWeights.Sum(), 1e-9)
}

func TestAnalyze_WideSpreadThinBook(t *testing.T) {
	a := New(Config{})
	state, err := a.Analyze(Input{
		Outcome: outcome("tok2", "mkt1", 0.50),
		Snapshot: &domain.OrderBookSnapshot{
			OutcomeID: "tok2",
			Timestamp: testTime,
			Bids:      []domain.BookLevel{{Price: 0.30, Size: 900}},
			Asks:      []domain.BookLevel{{Price: 0.55, Size: 800}},
		},
		Trades: []domain.TradePrint{
			{ID: "t2", OutcomeID: "tok2", Price: 0.52, Size: 30, Timestamp: testTime},
		},
	})
	require.NoError(t, err)

	// Spread 0.25 is wide → the last trade is shown instead of the mid.
	assert.Equal(t, domain.SourceLastTrade, state.DisplayPriceSource)
	assert.InDelta(t, 0.52, state.DisplayedProbability, 0.0001)

	// Wide spread + shallow book + tiny diverging trade stacks penalties.
	assert.True(t, state.HasTag(domain.TagWideSpread))
	assert.True(t, state.HasTag(domain.TagTinyRecentTrade))
	assert.Greater(t, state.ManipulationRiskScore, 0.70)
	assert.True(t, state.HasTag(domain.TagDistortionRisk))

	assert.InDelta(t, 1.0, state.SignalWeights.Sum(), 1e-9)
}

func TestAnalyze_NoDataFallsBackToPrior(t *testing.T) {
	a := New(Config{})
	state, err := a.Analyze(Input{
		Outcome: outcome("tok3", "mkt2", 0.37),
		AsOf:    testTime,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SourceDerived, state.DisplayPriceSource)
	assert.InDelta(t, 0.37, state.DisplayedProbability, 0.0001)
	// Every anchor degrades to the prior, so the blend equals it exactly.
	assert.InDelta(t, 0.37, state.RobustProbability, 1e-9)
	assert.Equal(t, 0.0, state.BookReliabilityScore)
	assert.Equal(t, 0.0, state.TradeReliabilityScore)
	assert.True(t, state.HasTag(domain.TagNoBookSnapshot))
	assert.True(t, state.HasTag(domain.TagNoRecentTrade))
	assert.True(t, state.HasTag(domain.TagFallbackAnchored))
	assert.Equal(t, testTime, state.Timestamp)
}

func TestAnalyze_OutOfRangePrior(t *testing.T) {
	a := New(Config{})
	_, err := a.Analyze(Input{Outcome: outcome("tok4", "mkt2", 1.2)})
	require.Error(t, err)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAnalyze_DeeperBookScoresHigher(t *testing.T) {
	a := New(Config{})
	mkBook := func(size float64) *domain.OrderBookSnapshot {
		return &domain.OrderBookSnapshot{
			OutcomeID: "tok5",
			Timestamp: testTime,
			Bids:      []domain.BookLevel{{Price: 0.48, Size: size}},
			Asks:      []domain.BookLevel{{Price: 0.50, Size: size}},
		}
	}

	shallow, err := a.Analyze(Input{Outcome: outcome("tok5", "mkt3", 0.5), Snapshot: mkBook(300)})
	require.NoError(t, err)
	deep, err := a.Analyze(Input{Outcome: outcome("tok5", "mkt3", 0.5), Snapshot: mkBook(4500)})
	require.NoError(t, err)

	assert.Greater(t, deep.BookReliabilityScore, shallow.BookReliabilityScore)
	assert.LessOrEqual(t, deep.ManipulationRiskScore, shallow.ManipulationRiskScore)
}

func TestAnalyze_ChurnPenalty(t *testing.T) {
	a := New(Config{})
	mkInput := func(quoteUpdates int) Input {
		return Input{
			Outcome: outcome("tok6", "mkt3", 0.5),
			Snapshot: &domain.OrderBookSnapshot{
				OutcomeID:    "tok6",
				Timestamp:    testTime,
				Bids:         []domain.BookLevel{{Price: 0.48, Size: 2000}},
				Asks:         []domain.BookLevel{{Price: 0.50, Size: 2000}},
				QuoteUpdates: quoteUpdates,
			},
			Trades: []domain.TradePrint{
				{ID: "t6", OutcomeID: "tok6", Price: 0.49, Size: 400, Timestamp: testTime},
			},
		}
	}

	quiet, err := a.Analyze(mkInput(0))
	require.NoError(t, err)
	// 200 quote updates against a single trade: ratio 200 vs threshold 25.
	churny, err := a.Analyze(mkInput(200))
	require.NoError(t, err)

	assert.True(t, churny.HasTag(domain.TagSpoofLikeChurn))
	assert.False(t, quiet.HasTag(domain.TagSpoofLikeChurn))
	assert.Greater(t, churny.ManipulationRiskScore, quiet.ManipulationRiskScore)
	assert.Less(t, churny.BookReliabilityScore, quiet.BookReliabilityScore)
}

func TestAnalyzeConcurrent_SkipsInvalidAndSorts(t *testing.T) {
	a := New(Config{})
	inputs := []Input{
		{Outcome: outcome("tokB", "mktB", 0.5), AsOf: testTime},
		{Outcome: outcome("tokA", "mktA", 0.5), AsOf: testTime},
		{Outcome: outcome("tokBad", "mktA", -0.5), AsOf: testTime}, // invalid prior
		{Outcome: outcome("tokC", "mktA", 0.5), AsOf: testTime},
	}

	states := AnalyzeConcurrent(context.Background(), a, inputs, 4)
	require.Len(t, states, 3)
	assert.Equal(t, "tokA", states[0].OutcomeID)
	assert.Equal(t, "tokC", states[1].OutcomeID)
	assert.Equal(t, "tokB", states[2].OutcomeID)
}

func TestSignalWeights_BookWeightMonotonicInReliability(t *testing.T) {
	a := New(Config{})
	snap := &domain.OrderBookSnapshot{
		Bids: []domain.BookLevel{{Price: 0.48, Size: 1000}},
		Asks: []domain.BookLevel{{Price: 0.50, Size: 1000}},
	}

	prev := -1.0
	for _, rel := range []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0} {
		w := a.signalWeights(domain.SourceMidpoint, snap, true, true, rel, 0.5)
		// Raising book reliability never lowers the book anchor's weight.
		assert.GreaterOrEqual(t, w.BookAnchor, prev, "book reliability %.1f", rel)
		assert.InDelta(t, 1.0, w.Sum(), 1e-9)
		prev = w.BookAnchor
	}
}

func TestAnalyze_OneSidedBookSkipsTradeComparison(t *testing.T) {
	a := New(Config{})
	state, err := a.Analyze(Input{
		Outcome: outcome("tok7", "mkt1", 0.50),
		Snapshot: &domain.OrderBookSnapshot{
			OutcomeID: "tok7",
			Timestamp: testTime,
			Bids:      []domain.BookLevel{{Price: 0.48, Size: 2000}},
		},
		Trades: []domain.TradePrint{
			{ID: "t1", OutcomeID: "tok7", Price: 0.49, Size: 500, Timestamp: testTime},
		},
	})
	require.NoError(t, err)

	// No quoted mid exists, so the zero divergence is not confirmation.
	assert.True(t, state.HasTag(domain.TagNoQuoteComparison))
	assert.False(t, state.HasTag(domain.TagTradeConfirmed))
	assert.False(t, state.HasTag(domain.TagQuoteNotTradeConfirmed))
	assert.Equal(t, domain.SourceLastTrade, state.DisplayPriceSource)
}
