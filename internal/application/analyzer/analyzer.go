package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// Config holds the analyzer's heuristic thresholds. It is passed in
// explicitly so backtests can vary them deterministically.
type Config struct {
	TopNLevels          int
	WideSpreadThreshold float64
	DivergenceThreshold float64
	DepthReference      float64
	DepthTargetSize     float64
	TradeReferenceSize  float64
	TinyTradeThreshold  float64
	StaleTradeThreshold time.Duration
	ChurnRatioThreshold float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		TopNLevels:          3,
		WideSpreadThreshold: 0.10,
		DivergenceThreshold: 0.08,
		DepthReference:      5000,
		DepthTargetSize:     1000,
		TradeReferenceSize:  1200,
		TinyTradeThreshold:  75,
		StaleTradeThreshold: 180 * time.Second,
		ChurnRatioThreshold: 25,
	}
}

// Input is everything the analyzer needs for one outcome: the latest book
// snapshot (nil when capture had none), recent trade prints, and the
// metadata prior used as the fallback anchor.
type Input struct {
	Outcome  domain.Outcome
	Snapshot *domain.OrderBookSnapshot
	Trades   []domain.TradePrint
	SourceID string
	// AsOf stamps the state when neither snapshot nor trades carry a
	// timestamp. Zero means time.Now.
	AsOf time.Time
}

// Analyzer turns raw book/trade snapshots into a reliability-weighted
// probability estimate and manipulation risk score. Pure: no I/O, no
// shared mutable state, safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// New creates an Analyzer, filling zero config fields with defaults.
func New(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.TopNLevels <= 0 {
		cfg.TopNLevels = def.TopNLevels
	}
	if cfg.WideSpreadThreshold <= 0 {
		cfg.WideSpreadThreshold = def.WideSpreadThreshold
	}
	if cfg.DivergenceThreshold <= 0 {
		cfg.DivergenceThreshold = def.DivergenceThreshold
	}
	if cfg.DepthReference <= 0 {
		cfg.DepthReference = def.DepthReference
	}
	if cfg.DepthTargetSize <= 0 {
		cfg.DepthTargetSize = def.DepthTargetSize
	}
	if cfg.TradeReferenceSize <= 0 {
		cfg.TradeReferenceSize = def.TradeReferenceSize
	}
	if cfg.TinyTradeThreshold <= 0 {
		cfg.TinyTradeThreshold = def.TinyTradeThreshold
	}
	if cfg.StaleTradeThreshold <= 0 {
		cfg.StaleTradeThreshold = def.StaleTradeThreshold
	}
	if cfg.ChurnRatioThreshold <= 0 {
		cfg.ChurnRatioThreshold = def.ChurnRatioThreshold
	}
	return &Analyzer{cfg: cfg}
}

// Analyze computes the microstructure state for one outcome. A missing book
// and missing trades together degrade to the fallback prior with zero
// reliabilities; an out-of-range fallback probability is a hard error.
func (a *Analyzer) Analyze(in Input) (domain.MarketMicrostructureState, error) {
	if in.Outcome.FallbackProbability < 0 || in.Outcome.FallbackProbability > 1 {
		return domain.MarketMicrostructureState{}, &domain.ValidationError{
			Entity: "outcome",
			Field:  "fallback_probability",
			Reason: fmt.Sprintf("%.4f outside [0,1]", in.Outcome.FallbackProbability),
		}
	}

	snap := in.Snapshot
	latest := domain.LatestTrade(in.Trades)

	displayed, source := a.displayedProbability(snap, latest, in.Outcome.FallbackProbability)
	imbalance := a.depthImbalance(snap)
	divergence := a.quoteTradeDivergence(snap, latest)
	dwm, hasDWM := a.depthWeightedMid(snap)
	anchor, hasAnchor := tradeAnchor(in.Trades)

	tradeRel := a.tradeReliability(snap, in.Trades, latest, divergence)
	bookRel := a.bookReliability(snap, in.Trades, tradeRel, imbalance, divergence)
	churn := a.churnScore(snap, in.Trades)

	weights := a.signalWeights(source, snap, hasDWM, hasAnchor, bookRel, tradeRel)
	robust := a.robustProbability(displayed, dwm, hasDWM, anchor, hasAnchor, in.Outcome.FallbackProbability, weights)
	risk := a.manipulationRisk(snap, in.Trades, latest, bookRel, tradeRel, divergence, churn)
	tags := a.explanatoryTags(snap, in.Trades, latest, bookRel, tradeRel, risk, divergence, imbalance, churn, weights)

	ts := a.analysisTimestamp(snap, latest, in.AsOf)
	return domain.MarketMicrostructureState{
		ID:                    fmt.Sprintf("mms_%s_%s", in.Outcome.ID, compactTimestamp(ts)),
		MarketID:              in.Outcome.MarketID,
		OutcomeID:             in.Outcome.ID,
		Timestamp:             ts,
		DisplayedProbability:  displayed,
		DisplayPriceSource:    source,
		RobustProbability:     robust,
		BookReliabilityScore:  bookRel,
		TradeReliabilityScore: tradeRel,
		ManipulationRiskScore: risk,
		DepthImbalance:        imbalance,
		QuoteTradeDivergence:  divergence,
		SignalWeights:         weights,
		ExplanatoryTags:       tags,
		SourceID:              in.SourceID,
	}, nil
}

// displayedProbability picks the visible price: quoted mid when the spread
// is tight, last trade when it is wide, fallback prior when neither exists.
func (a *Analyzer) displayedProbability(snap *domain.OrderBookSnapshot, latest *domain.TradePrint, fallback float64) (float64, domain.DisplaySource) {
	if snap != nil && snap.HasBothSides() {
		if snap.Spread() <= a.cfg.WideSpreadThreshold {
			return domain.ClampProbability(snap.Midpoint()), domain.SourceMidpoint
		}
		if latest != nil {
			return domain.ClampProbability(latest.Price), domain.SourceLastTrade
		}
		return domain.ClampProbability(snap.Midpoint()), domain.SourceMidpoint
	}
	if latest != nil {
		return domain.ClampProbability(latest.Price), domain.SourceLastTrade
	}
	return domain.ClampProbability(fallback), domain.SourceDerived
}

func (a *Analyzer) depthImbalance(snap *domain.OrderBookSnapshot) float64 {
	if snap == nil {
		return 0
	}
	return domain.DepthImbalance(snap.BidDepthTopN(a.cfg.TopNLevels), snap.AskDepthTopN(a.cfg.TopNLevels))
}

func (a *Analyzer) quoteTradeDivergence(snap *domain.OrderBookSnapshot, latest *domain.TradePrint) float64 {
	if snap == nil || latest == nil {
		return 0
	}
	mid := snap.Midpoint()
	if mid == 0 {
		return 0
	}
	return math.Abs(mid - latest.Price)
}

// depthWeightedMid averages the effective buy-exit price (walking asks) and
// sell-exit price (walking bids) for the configured target size. A side
// with no depth is excluded rather than treated as an error.
func (a *Analyzer) depthWeightedMid(snap *domain.OrderBookSnapshot) (float64, bool) {
	if snap == nil {
		return 0, false
	}
	buy, hasBuy := executionPrice(snap.Asks, false, a.cfg.DepthTargetSize)
	sell, hasSell := executionPrice(snap.Bids, true, a.cfg.DepthTargetSize)
	switch {
	case !hasBuy && !hasSell:
		return 0, false
	case !hasBuy:
		return domain.ClampProbability(sell), true
	case !hasSell:
		return domain.ClampProbability(buy), true
	}
	return domain.ClampProbability((buy + sell) / 2), true
}

// executionPrice walks levels best-first until the target size is consumed
// and returns the volume-weighted average price of the walk.
func executionPrice(levels []domain.BookLevel, descending bool, targetSize float64) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	sorted := make([]domain.BookLevel, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool {
		if descending {
			return sorted[i].Price > sorted[j].Price
		}
		return sorted[i].Price < sorted[j].Price
	})
	var available float64
	for _, l := range sorted {
		available += l.Size
	}
	target := math.Min(available, targetSize)
	if target <= 0 {
		return 0, false
	}
	remaining := target
	var cost float64
	for _, l := range sorted {
		if remaining <= 0 {
			break
		}
		fill := math.Min(l.Size, remaining)
		cost += fill * l.Price
		remaining -= fill
	}
	filled := target - remaining
	if filled <= 0 {
		return 0, false
	}
	return cost / filled, true
}

// tradeAnchor is the size-weighted average price of the recent prints.
func tradeAnchor(trades []domain.TradePrint) (float64, bool) {
	if len(trades) == 0 {
		return 0, false
	}
	var totalSize, weighted float64
	for _, t := range trades {
		size := math.Max(t.Size, 0)
		totalSize += size
		weighted += t.Price * size
	}
	if totalSize <= 0 {
		return domain.ClampProbability(trades[len(trades)-1].Price), true
	}
	return domain.ClampProbability(weighted / totalSize), true
}

func (a *Analyzer) tradeReliability(snap *domain.OrderBookSnapshot, trades []domain.TradePrint, latest *domain.TradePrint, divergence float64) float64 {
	if len(trades) == 0 {
		return 0
	}
	var totalSize float64
	for _, t := range trades {
		totalSize += math.Max(t.Size, 0)
	}
	sizeScore := domain.TradeSizeScore(totalSize, a.cfg.TradeReferenceSize)

	recency := 1.0
	if snap != nil && latest != nil {
		age := snap.Timestamp.Sub(latest.Timestamp).Seconds()
		recency = domain.RecencyScore(age, a.cfg.StaleTradeThreshold.Seconds())
	}

	confirmation := 0.6
	if snap != nil {
		confirmation = domain.DivergenceScore(divergence, a.cfg.DivergenceThreshold)
	}

	var tinyPenalty float64
	if latest != nil && latest.Size < a.cfg.TinyTradeThreshold {
		tinyPenalty = 0.20
	}

	score := 0.45*sizeScore + 0.30*recency + 0.25*confirmation - tinyPenalty
	return domain.Clamp(score, 0, 1)
}

func (a *Analyzer) bookReliability(snap *domain.OrderBookSnapshot, trades []domain.TradePrint, tradeRel, imbalance, divergence float64) float64 {
	if snap == nil {
		if len(trades) > 0 {
			return 0.2
		}
		return 0
	}
	minDepth := math.Min(snap.BidDepthTopN(a.cfg.TopNLevels), snap.AskDepthTopN(a.cfg.TopNLevels))
	depthScore := domain.DepthScore(minDepth, a.cfg.DepthReference)

	var spreadScore float64
	if snap.HasBothSides() {
		spreadScore = domain.SpreadScore(snap.Spread(), a.cfg.WideSpreadThreshold)
	}

	tradeScore := 0.25
	if len(trades) > 0 {
		divScore := domain.DivergenceScore(divergence, a.cfg.DivergenceThreshold)
		tradeScore = 0.4 + 0.6*math.Min(tradeRel, divScore)
	}

	balance := domain.BalanceScore(imbalance)
	tick := domain.TickGranularityScore(snap.TickSize, snap.Spread())
	churn := a.churnScore(snap, trades)

	score := 0.30*depthScore + 0.20*spreadScore + 0.20*tradeScore + 0.10*balance + 0.10*tick + 0.10*churn
	return domain.Clamp(score, 0, 1)
}

func (a *Analyzer) churnScore(snap *domain.OrderBookSnapshot, trades []domain.TradePrint) float64 {
	if snap == nil {
		return 1
	}
	return domain.ChurnScore(snap.QuoteUpdates, len(trades), a.cfg.ChurnRatioThreshold)
}

// signalWeights blends the anchors by reliability. Each source's weight is
// monotonic in its own reliability score; fallback absorbs the remainder,
// so low reliability everywhere pushes the blend onto the prior.
func (a *Analyzer) signalWeights(source domain.DisplaySource, snap *domain.OrderBookSnapshot, hasDWM, hasAnchor bool, bookRel, tradeRel float64) domain.SignalWeights {
	var w domain.SignalWeights
	if snap != nil && hasDWM {
		w.BookAnchor = 0.50 * bookRel
	}
	if hasAnchor {
		w.TradeAnchor = 0.35 * tradeRel
	}
	switch source {
	case domain.SourceMidpoint:
		w.Displayed = 0.15 * bookRel
	case domain.SourceLastTrade:
		w.Displayed = 0.10 * tradeRel
	default:
		w.Displayed = 0.05
	}
	total := w.Displayed + w.BookAnchor + w.TradeAnchor
	if total > 1 {
		scale := 1 / total
		w.Displayed *= scale
		w.BookAnchor *= scale
		w.TradeAnchor *= scale
		total = 1
	}
	w.FallbackAnchor = math.Max(0, 1-total)
	sum := w.Sum()
	if sum <= 0 {
		return domain.SignalWeights{FallbackAnchor: 1}
	}
	w.Displayed /= sum
	w.BookAnchor /= sum
	w.TradeAnchor /= sum
	w.FallbackAnchor /= sum
	return w
}

func (a *Analyzer) robustProbability(displayed, dwm float64, hasDWM bool, anchor float64, hasAnchor bool, fallback float64, w domain.SignalWeights) float64 {
	bookAnchor := fallback
	if hasDWM {
		bookAnchor = dwm
	}
	tradeProb := fallback
	if hasAnchor {
		tradeProb = anchor
	}
	blended := w.Displayed*displayed + w.BookAnchor*bookAnchor + w.TradeAnchor*tradeProb + w.FallbackAnchor*fallback
	return domain.ClampProbability(blended)
}

// manipulationRisk is a heuristic, not a factual determination: each
// suspicious pattern adds a bounded increment on top of the inverse of the
// reliability blend.
func (a *Analyzer) manipulationRisk(snap *domain.OrderBookSnapshot, trades []domain.TradePrint, latest *domain.TradePrint, bookRel, tradeRel, divergence, churn float64) float64 {
	risk := 1 - (0.65*bookRel + 0.35*tradeRel)
	if snap != nil && snap.HasBothSides() && snap.Spread() > a.cfg.WideSpreadThreshold {
		risk += 0.12
	}
	if snap == nil {
		risk += 0.10
	} else {
		minDepth := math.Min(snap.BidDepthTopN(a.cfg.TopNLevels), snap.AskDepthTopN(a.cfg.TopNLevels))
		if minDepth < 0.2*a.cfg.DepthReference {
			risk += 0.12
		}
	}
	if len(trades) > 0 {
		if latest != nil && latest.Size < a.cfg.TinyTradeThreshold {
			risk += 0.08
		}
		if divergence > a.cfg.DivergenceThreshold {
			risk += 0.12
		}
	} else {
		risk += 0.05
	}
	if churn < 0.5 {
		risk += 0.10
	}
	return domain.Clamp(risk, 0, 1)
}

func (a *Analyzer) explanatoryTags(snap *domain.OrderBookSnapshot, trades []domain.TradePrint, latest *domain.TradePrint, bookRel, tradeRel, risk, divergence, imbalance, churn float64, w domain.SignalWeights) []string {
	var tags []string
	if snap != nil && snap.HasBothSides() {
		if snap.Spread() > a.cfg.WideSpreadThreshold {
			tags = append(tags, domain.TagWideSpread)
		} else {
			tags = append(tags, domain.TagNarrowSpread)
		}
	}
	if snap != nil {
		minDepth := math.Min(snap.BidDepthTopN(a.cfg.TopNLevels), snap.AskDepthTopN(a.cfg.TopNLevels))
		switch {
		case minDepth < 0.2*a.cfg.DepthReference:
			tags = append(tags, domain.TagShallowBook)
		case minDepth >= 0.8*a.cfg.DepthReference:
			tags = append(tags, domain.TagDeepBook)
		default:
			tags = append(tags, domain.TagHealthyDepth)
		}
	} else {
		tags = append(tags, domain.TagNoBookSnapshot)
	}
	if len(trades) > 0 {
		switch {
		case snap == nil:
			tags = append(tags, domain.TagTradeOnlySignal)
		case snap.Midpoint() == 0:
			// One-sided book: no quoted mid exists, so a zero divergence
			// carries no confirmation signal.
			tags = append(tags, domain.TagNoQuoteComparison)
		case divergence <= a.cfg.DivergenceThreshold:
			tags = append(tags, domain.TagTradeConfirmed)
		default:
			tags = append(tags, domain.TagQuoteNotTradeConfirmed)
		}
		if latest != nil && latest.Size < a.cfg.TinyTradeThreshold {
			tags = append(tags, domain.TagTinyRecentTrade)
		} else if tradeRel >= 0.70 {
			tags = append(tags, domain.TagStrongTradeSupport)
		}
	} else {
		tags = append(tags, domain.TagNoRecentTrade)
	}
	if math.Abs(imbalance) > 0.5 {
		tags = append(tags, domain.TagExtremeDepthImbalance)
	}
	if churn < 0.5 {
		tags = append(tags, domain.TagSpoofLikeChurn)
	}
	if w.FallbackAnchor >= 0.50 {
		tags = append(tags, domain.TagFallbackAnchored)
	}
	if w.BookAnchor >= 0.40 {
		tags = append(tags, domain.TagBookAnchored)
	}
	if w.TradeAnchor >= 0.25 {
		tags = append(tags, domain.TagTradeAnchored)
	}
	if risk >= 0.70 {
		tags = append(tags, domain.TagDistortionRisk)
	} else if bookRel >= 0.80 {
		tags = append(tags, domain.TagReliableSignal)
	}
	return tags
}

func (a *Analyzer) analysisTimestamp(snap *domain.OrderBookSnapshot, latest *domain.TradePrint, asOf time.Time) time.Time {
	if snap != nil && !snap.Timestamp.IsZero() {
		return snap.Timestamp.UTC()
	}
	if latest != nil && !latest.Timestamp.IsZero() {
		return latest.Timestamp.UTC()
	}
	if !asOf.IsZero() {
		return asOf.UTC()
	}
	return time.Now().UTC().Truncate(time.Second)
}

func compactTimestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05Z")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, "T", "_")
	return strings.TrimSuffix(s, "Z")
}
