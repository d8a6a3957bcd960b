package sim

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// pairKey identifies the long/short position pair one fill lands on.
type pairKey struct {
	portfolio string
	market    string
	outcome   string
}

type pairRefs struct {
	long  *domain.Position
	short *domain.Position
}

// positionBook applies fills to portfolio positions incrementally and, per
// pair, remembers the pre-simulation base state the replay audit rederives
// from. It owns a private copy of the bundle's positions; callers read
// results via materialize.
type positionBook struct {
	positions []*domain.Position
	index     map[pairKey]pairRefs
	ids       map[string]bool
	frozen    map[pairKey]bool
	base      map[pairKey]pairState
	realized  map[pairKey]float64
	touched   map[string]bool
}

func newPositionBook(bundle domain.ExecutionBundle) *positionBook {
	b := &positionBook{
		index:    make(map[pairKey]pairRefs),
		ids:      make(map[string]bool, len(bundle.Positions)),
		frozen:   make(map[pairKey]bool),
		base:     make(map[pairKey]pairState),
		realized: make(map[pairKey]float64),
		touched:  make(map[string]bool),
	}
	for _, p := range bundle.Positions {
		cp := p
		b.positions = append(b.positions, &cp)
		b.ids[cp.ID] = true
		pk := pairKey{portfolio: cp.PortfolioID, market: cp.MarketID, outcome: cp.OutcomeID}
		refs := b.index[pk]
		if cp.Side == domain.PositionShort {
			refs.short = &cp
		} else {
			refs.long = &cp
		}
		b.index[pk] = refs
	}
	return b
}

func (b *positionBook) isFrozen(pk pairKey) bool {
	return b.frozen[pk]
}

// applyFill mutates the pair incrementally. Buys cover short exposure before
// adding long; sells reduce long exposure before opening short. Returns the
// realized PnL of the fill.
func (b *positionBook) applyFill(pk pairKey, side domain.OrderSide, qty, price float64) float64 {
	b.ensureBase(pk)

	var realized float64
	remaining := qty
	if side == domain.SideBuy {
		if short := b.existing(pk, domain.PositionShort); short != nil && short.Size > 0 {
			cover := math.Min(remaining, short.Size)
			realized += (short.AvgEntryPrice - price) * cover
			short.Size -= cover
			remaining -= cover
			b.mark(short, price)
		}
		if remaining > 0 {
			long := b.getOrCreate(pk, domain.PositionLong, price)
			newSize := long.Size + remaining
			long.AvgEntryPrice = ((long.Size * long.AvgEntryPrice) + (remaining * price)) / newSize
			long.Size = newSize
			b.mark(long, price)
		}
	} else {
		if long := b.existing(pk, domain.PositionLong); long != nil && long.Size > 0 {
			reduce := math.Min(remaining, long.Size)
			realized += (price - long.AvgEntryPrice) * reduce
			long.Size -= reduce
			remaining -= reduce
			b.mark(long, price)
		}
		if remaining > 0 {
			short := b.getOrCreate(pk, domain.PositionShort, price)
			newSize := short.Size + remaining
			short.AvgEntryPrice = ((short.Size * short.AvgEntryPrice) + (remaining * price)) / newSize
			short.Size = newSize
			b.mark(short, price)
		}
	}
	b.realized[pk] += realized
	return realized
}

// verify rederives the pair from its base state plus the given execution
// history and compares it against the incremental state. The history comes
// from the persisted execution records, not from this book's own
// bookkeeping. On mismatch the pair freezes.
func (b *positionBook) verify(pk pairKey, history []fill) error {
	if len(history) == 0 {
		return nil
	}
	want := replayPair(b.base[pk], history)
	got := b.currentState(pk)
	if !matchesPair(got, want) {
		b.frozen[pk] = true
		return fmt.Errorf(
			"sim.verify: %w for %s/%s: incremental long=%.6f@%.6f short=%.6f@%.6f realized=%.6f, replay long=%.6f@%.6f short=%.6f@%.6f realized=%.6f",
			ErrReplayMismatch, pk.market, pk.outcome,
			got.LongSize, got.LongAvg, got.ShortSize, got.ShortAvg, got.Realized,
			want.LongSize, want.LongAvg, want.ShortSize, want.ShortAvg, want.Realized,
		)
	}
	return nil
}

// materialize returns every position, mutated and untouched alike, as the
// bundle's new position set.
func (b *positionBook) materialize() []domain.Position {
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

// touchedSnapshots returns only the positions this pass mutated or created,
// in book order.
func (b *positionBook) touchedSnapshots() []domain.Position {
	var out []domain.Position
	for _, p := range b.positions {
		if b.touched[p.ID] {
			out = append(out, *p)
		}
	}
	return out
}

// ensureBase captures the pair's pre-simulation exposure the first time a
// fill lands on it. Replay starts from this snapshot, not from zero.
func (b *positionBook) ensureBase(pk pairKey) {
	if _, ok := b.base[pk]; ok {
		return
	}
	b.base[pk] = b.exposure(pk)
}

func (b *positionBook) currentState(pk pairKey) pairState {
	state := b.exposure(pk)
	state.Realized = b.base[pk].Realized + b.realized[pk]
	return state
}

func (b *positionBook) exposure(pk pairKey) pairState {
	var state pairState
	refs := b.index[pk]
	if refs.long != nil {
		state.LongSize = refs.long.Size
		state.LongAvg = refs.long.AvgEntryPrice
	}
	if refs.short != nil {
		state.ShortSize = refs.short.Size
		state.ShortAvg = refs.short.AvgEntryPrice
	}
	return state
}

func (b *positionBook) existing(pk pairKey, side domain.PositionSide) *domain.Position {
	refs := b.index[pk]
	if side == domain.PositionShort {
		if refs.short != nil {
			b.touched[refs.short.ID] = true
		}
		return refs.short
	}
	if refs.long != nil {
		b.touched[refs.long.ID] = true
	}
	return refs.long
}

func (b *positionBook) getOrCreate(pk pairKey, side domain.PositionSide, price float64) *domain.Position {
	if p := b.existing(pk, side); p != nil {
		return p
	}
	p := &domain.Position{
		ID:            b.newPositionID(pk, side),
		PortfolioID:   pk.portfolio,
		MarketID:      pk.market,
		OutcomeID:     pk.outcome,
		Side:          side,
		AvgEntryPrice: price,
		MarkPrice:     price,
		Status:        domain.PositionOpen,
	}
	b.positions = append(b.positions, p)
	b.touched[p.ID] = true
	refs := b.index[pk]
	if side == domain.PositionShort {
		refs.short = p
	} else {
		refs.long = p
	}
	b.index[pk] = refs
	return p
}

func (b *positionBook) newPositionID(pk pairKey, side domain.PositionSide) string {
	base := fmt.Sprintf("pos_sim_%s_%s_%s", pk.market, pk.outcome, side)
	id := base
	for suffix := 2; b.ids[id]; suffix++ {
		id = fmt.Sprintf("%s_%d", base, suffix)
	}
	b.ids[id] = true
	return id
}

func (b *positionBook) mark(p *domain.Position, price float64) {
	p.MarkPrice = price
	p.RecomputeUnrealized()
	b.touched[p.ID] = true
}
