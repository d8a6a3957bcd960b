package sim

// pnl.go: position bookkeeping primitives and the replay audit.
//
// The incremental book in book.go and replayPair below are independent
// derivations of the same invariant: a position's size, average entry and
// realized PnL must be reproducible by replaying its execution records in
// timestamp order. The replay input is rebuilt from the persisted
// executions, not from the book's own bookkeeping. When the two disagree
// the pair is frozen and its remaining orders are refused; inconsistent
// state never keeps trading.

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// ErrReplayMismatch marks a position whose incremental state diverged from
// its replayed execution history. Fatal for that position.
var ErrReplayMismatch = errors.New("position replay mismatch")

const replayEpsilon = 1e-6

// fill is one applied execution, attributed to its pair.
type fill struct {
	Side      domain.OrderSide
	Quantity  float64
	Price     float64
	Timestamp time.Time
	Seq       int
}

// pairState carries the long/short exposure of one (portfolio, market,
// outcome) pair plus realized PnL accumulated from reductions.
type pairState struct {
	LongSize  float64
	LongAvg   float64
	ShortSize float64
	ShortAvg  float64
	Realized  float64
}

// replayPair rederives the pair state from scratch: base exposure plus all
// fills sorted by (timestamp, seq). Buy covers short exposure before adding
// long; sell reduces long exposure before opening short. Same-side adds move
// the average entry by size weighting; reductions realize PnL against it.
func replayPair(base pairState, fills []fill) pairState {
	ordered := make([]fill, len(fills))
	copy(ordered, fills)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	state := base
	for _, f := range ordered {
		qty := f.Quantity
		if qty <= 0 {
			continue
		}
		if f.Side == domain.SideBuy {
			if state.ShortSize > 0 {
				cover := math.Min(qty, state.ShortSize)
				state.Realized += (state.ShortAvg - f.Price) * cover
				state.ShortSize -= cover
				qty -= cover
			}
			if qty > 0 {
				newSize := state.LongSize + qty
				state.LongAvg = ((state.LongSize * state.LongAvg) + (qty * f.Price)) / newSize
				state.LongSize = newSize
			}
		} else {
			if state.LongSize > 0 {
				reduce := math.Min(qty, state.LongSize)
				state.Realized += (f.Price - state.LongAvg) * reduce
				state.LongSize -= reduce
				qty -= reduce
			}
			if qty > 0 {
				newSize := state.ShortSize + qty
				state.ShortAvg = ((state.ShortSize * state.ShortAvg) + (qty * f.Price)) / newSize
				state.ShortSize = newSize
			}
		}
	}
	return state
}

// matchesPair compares an incremental pair against a replayed one. Average
// entry only matters while size remains.
func matchesPair(got, want pairState) bool {
	if math.Abs(got.LongSize-want.LongSize) > replayEpsilon {
		return false
	}
	if math.Abs(got.ShortSize-want.ShortSize) > replayEpsilon {
		return false
	}
	if got.LongSize > replayEpsilon && math.Abs(got.LongAvg-want.LongAvg) > replayEpsilon {
		return false
	}
	if got.ShortSize > replayEpsilon && math.Abs(got.ShortAvg-want.ShortAvg) > replayEpsilon {
		return false
	}
	return math.Abs(got.Realized-want.Realized) <= replayEpsilon
}
