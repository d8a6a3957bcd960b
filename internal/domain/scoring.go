package domain

import "math"

// scoring.go: pure scoring primitives for the microstructure analyzer.
//
// Each factor is an independent function so scoring changes stay auditable:
// a reliability tweak is a one-function diff plus its test, never a rewrite
// of the blend.

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// ClampProbability bounds v to the probability range [0, 1].
func ClampProbability(v float64) float64 {
	return Clamp(v, 0, 1)
}

// DepthScore maps the thinner book side's top-N depth onto [0,1] with
// log damping: doubling a deep book barely moves the score, doubling a
// shallow one does.
func DepthScore(minSideDepth, depthReference float64) float64 {
	if minSideDepth <= 0 || depthReference <= 0 {
		return 0
	}
	return math.Min(math.Log1p(minSideDepth)/math.Log1p(depthReference), 1)
}

// SpreadScore is 1 for a zero spread and decays linearly to 0 at the
// wide-spread threshold.
func SpreadScore(spread, wideThreshold float64) float64 {
	if wideThreshold <= 0 {
		return 0
	}
	return 1 - math.Min(math.Max(spread, 0)/wideThreshold, 1)
}

// DivergenceScore is 1 when quote and trade agree and decays linearly to 0
// at the divergence threshold.
func DivergenceScore(divergence, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	return 1 - math.Min(math.Max(divergence, 0)/threshold, 1)
}

// TradeSizeScore maps total printed size onto [0,1] with log damping
// against a reference size.
func TradeSizeScore(totalSize, referenceSize float64) float64 {
	if totalSize <= 0 || referenceSize <= 0 {
		return 0
	}
	return math.Min(math.Log1p(totalSize)/math.Log1p(referenceSize), 1)
}

// RecencyScore is 1 for a trade printed at the snapshot instant and decays
// linearly to 0 at the staleness threshold.
func RecencyScore(ageSeconds, staleThresholdSeconds float64) float64 {
	if staleThresholdSeconds <= 0 {
		return 0
	}
	return 1 - math.Min(math.Abs(ageSeconds)/staleThresholdSeconds, 1)
}

// BalanceScore is 1 for a symmetric book and 0 for fully one-sided depth.
func BalanceScore(depthImbalance float64) float64 {
	return 1 - math.Min(math.Abs(depthImbalance), 1)
}

// TickGranularityScore penalizes a tick size that is coarse relative to the
// spread: when one tick spans the whole spread, displayed prices carry
// almost no information. Returns 1 when tick size is unknown.
func TickGranularityScore(tickSize, spread float64) float64 {
	if tickSize <= 0 {
		return 1
	}
	if spread <= 0 {
		return 1
	}
	return 1 - math.Min(tickSize/spread, 1)
}

// ChurnScore penalizes an abnormal quote-update-to-trade ratio. Books that
// requote constantly without printing trades look spoof-like. Returns 1
// when no quote-update count was captured.
func ChurnScore(quoteUpdates int, tradeCount int, abnormalRatio float64) float64 {
	if quoteUpdates <= 0 || abnormalRatio <= 0 {
		return 1
	}
	trades := tradeCount
	if trades < 1 {
		trades = 1
	}
	ratio := float64(quoteUpdates) / float64(trades)
	return 1 - math.Min(ratio/abnormalRatio, 1)
}

// DepthImbalance is the normalized bid/ask depth difference in [-1,1].
// Defined as 0 when both sides are empty.
func DepthImbalance(bidDepth, askDepth float64) float64 {
	total := bidDepth + askDepth
	if total <= 0 {
		return 0
	}
	return (bidDepth - askDepth) / total
}
