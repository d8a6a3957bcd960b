package domain

import "time"

// DisplaySource identifies which raw signal backed the displayed probability.
type DisplaySource string

const (
	SourceMidpoint  DisplaySource = "midpoint"
	SourceLastTrade DisplaySource = "last_trade"
	SourceDerived   DisplaySource = "derived"
)

// Explanatory tags attached to a microstructure state. Tags describe the
// book/trade pattern observed, never a factual manipulation determination.
const (
	TagWideSpread             = "wide_spread"
	TagNarrowSpread           = "narrow_spread"
	TagShallowBook            = "shallow_book"
	TagHealthyDepth           = "healthy_depth"
	TagDeepBook               = "deep_book"
	TagNoBookSnapshot         = "no_book_snapshot"
	TagTradeOnlySignal        = "trade_only_signal"
	TagTradeConfirmed         = "trade_confirmed"
	TagQuoteNotTradeConfirmed = "quote_not_trade_confirmed"
	TagNoQuoteComparison      = "no_quote_trade_comparison"
	TagTinyRecentTrade        = "tiny_recent_trade"
	TagStrongTradeSupport     = "strong_trade_support"
	TagNoRecentTrade          = "no_recent_trade"
	TagExtremeDepthImbalance  = "extreme_depth_imbalance"
	TagSpoofLikeChurn         = "spoof_like_churn"
	TagFallbackAnchored       = "fallback_anchored"
	TagBookAnchored           = "book_anchored"
	TagTradeAnchored          = "trade_anchored"
	TagDistortionRisk         = "small_trade_distortion_risk"
	TagReliableSignal         = "reliable_signal"
)

// SignalWeights is the convex blend over the four probability anchors.
// Weights are non-negative and sum to 1.
type SignalWeights struct {
	Displayed      float64 `json:"displayed"`
	BookAnchor     float64 `json:"book_anchor"`
	TradeAnchor    float64 `json:"trade_anchor"`
	FallbackAnchor float64 `json:"fallback_anchor"`
}

// Sum returns the total weight. Valid states keep this at 1 within epsilon.
func (w SignalWeights) Sum() float64 {
	return w.Displayed + w.BookAnchor + w.TradeAnchor + w.FallbackAnchor
}

// MarketMicrostructureState is the analyzer output for one outcome at one
// analysis timestamp. Immutable once computed.
type MarketMicrostructureState struct {
	ID                    string        `json:"id"`
	MarketID              string        `json:"market_id"`
	OutcomeID             string        `json:"outcome_id"`
	Timestamp             time.Time     `json:"timestamp"`
	DisplayedProbability  float64       `json:"displayed_probability"`
	DisplayPriceSource    DisplaySource `json:"display_price_source"`
	RobustProbability     float64       `json:"robust_probability"`
	BookReliabilityScore  float64       `json:"book_reliability_score"`
	TradeReliabilityScore float64       `json:"trade_reliability_score"`
	ManipulationRiskScore float64       `json:"manipulation_risk_score"`
	DepthImbalance        float64       `json:"depth_imbalance"`
	QuoteTradeDivergence  float64       `json:"quote_trade_divergence"`
	SignalWeights         SignalWeights `json:"signal_weights"`
	ExplanatoryTags       []string      `json:"explanatory_tags"`
	SourceID              string        `json:"source_id"`
}

// HasTag reports whether the state carries the given explanatory tag.
func (s MarketMicrostructureState) HasTag(tag string) bool {
	for _, t := range s.ExplanatoryTags {
		if t == tag {
			return true
		}
	}
	return false
}
