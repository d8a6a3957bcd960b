package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepthScore_AtReference(t *testing.T) {
	assert.InDelta(t, 1.0, DepthScore(5000, 5000), 0.001)
}

func TestDepthScore_LogDamped(t *testing.T) {
	// log1p(500)/log1p(5000) = 6.2166/8.5174 ≈ 0.730
	assert.InDelta(t, 0.730, DepthScore(500, 5000), 0.005)
}

func TestDepthScore_EmptySide(t *testing.T) {
	assert.Equal(t, 0.0, DepthScore(0, 5000))
	assert.Equal(t, 0.0, DepthScore(100, 0))
}

func TestSpreadScore_Linear(t *testing.T) {
	assert.Equal(t, 1.0, SpreadScore(0, 0.10))
	assert.InDelta(t, 0.5, SpreadScore(0.05, 0.10), 0.001)
	assert.Equal(t, 0.0, SpreadScore(0.15, 0.10))
}

func TestDivergenceScore_Linear(t *testing.T) {
	assert.Equal(t, 1.0, DivergenceScore(0, 0.08))
	assert.InDelta(t, 0.5, DivergenceScore(0.04, 0.08), 0.001)
	assert.Equal(t, 0.0, DivergenceScore(0.10, 0.08))
}

func TestTradeSizeScore_AtReference(t *testing.T) {
	assert.InDelta(t, 1.0, TradeSizeScore(1200, 1200), 0.001)
	assert.Equal(t, 0.0, TradeSizeScore(0, 1200))
}

func TestRecencyScore_Decay(t *testing.T) {
	// Age 90s against a 180s staleness window → half credit.
	assert.InDelta(t, 0.5, RecencyScore(90, 180), 0.001)
	assert.Equal(t, 0.0, RecencyScore(300, 180))
	assert.Equal(t, 1.0, RecencyScore(0, 180))
}

func TestBalanceScore_Bounds(t *testing.T) {
	assert.Equal(t, 1.0, BalanceScore(0))
	assert.InDelta(t, 0.5, BalanceScore(0.5), 0.001)
	assert.InDelta(t, 0.5, BalanceScore(-0.5), 0.001)
	assert.Equal(t, 0.0, BalanceScore(-1.5))
}

func TestTickGranularityScore(t *testing.T) {
	// Unknown tick size never penalizes.
	assert.Equal(t, 1.0, TickGranularityScore(0, 0.02))
	// Tick half the spread → half the information penalty.
	assert.InDelta(t, 0.5, TickGranularityScore(0.01, 0.02), 0.001)
	// Tick spanning the whole spread → price levels carry nothing.
	assert.Equal(t, 0.0, TickGranularityScore(0.05, 0.02))
}

func TestChurnScore(t *testing.T) {
	// No quote-update count captured → no penalty.
	assert.Equal(t, 1.0, ChurnScore(0, 5, 25))
	// 25 updates over 5 trades = ratio 5 → 1 - 5/25 = 0.8
	assert.InDelta(t, 0.8, ChurnScore(25, 5, 25), 0.001)
	// 50 updates over 2 trades = ratio 25 → fully abnormal.
	assert.Equal(t, 0.0, ChurnScore(50, 2, 25))
	// Zero trades count as one so a quiet tape still divides.
	assert.InDelta(t, 0.6, ChurnScore(10, 0, 25), 0.001)
}

func TestDepthImbalance(t *testing.T) {
	// (300-100)/400 = 0.5 bid-heavy
	assert.InDelta(t, 0.5, DepthImbalance(300, 100), 0.001)
	assert.InDelta(t, -0.5, DepthImbalance(100, 300), 0.001)
	assert.Equal(t, 0.0, DepthImbalance(0, 0))
}

func TestClampProbability(t *testing.T) {
	assert.Equal(t, 0.0, ClampProbability(-0.3))
	assert.Equal(t, 1.0, ClampProbability(1.7))
	assert.Equal(t, 0.42, ClampProbability(0.42))
}
