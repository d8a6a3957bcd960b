package domain

import "time"

// BookLevel is one resting price level in an order book.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot is a point-in-time view of one outcome's order book.
// Bids are sorted best (highest) first, asks best (lowest) first.
type OrderBookSnapshot struct {
	MarketID  string      `json:"market_id"`
	OutcomeID string      `json:"outcome_id"`
	Timestamp time.Time   `json:"timestamp"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	TickSize  float64     `json:"tick_size"`
	// QuoteUpdates counts book updates seen in the capture window,
	// 0 when the capture layer did not track them.
	QuoteUpdates int `json:"quote_updates"`
}

// TradePrint is one executed trade for an outcome token.
type TradePrint struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	OutcomeID string    `json:"outcome_id"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      string    `json:"side"` // "buy" | "sell" as reported by the venue
	Timestamp time.Time `json:"timestamp"`
}

// BestBid returns the highest resting bid, or 0 if the bid side is empty.
func (ob OrderBookSnapshot) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest resting ask, or 0 if the ask side is empty.
func (ob OrderBookSnapshot) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// HasBothSides reports whether both book sides have at least one level.
func (ob OrderBookSnapshot) HasBothSides() bool {
	return len(ob.Bids) > 0 && len(ob.Asks) > 0
}

// Midpoint returns the quoted mid between best bid and best ask.
// Returns 0 when either side is empty.
func (ob OrderBookSnapshot) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread returns ask - bid, or 0 when either side is empty.
func (ob OrderBookSnapshot) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// BidDepthTopN sums resting size across the first n bid levels.
func (ob OrderBookSnapshot) BidDepthTopN(n int) float64 {
	return depthTopN(ob.Bids, n)
}

// AskDepthTopN sums resting size across the first n ask levels.
func (ob OrderBookSnapshot) AskDepthTopN(n int) float64 {
	return depthTopN(ob.Asks, n)
}

func depthTopN(levels []BookLevel, n int) float64 {
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	var total float64
	for _, l := range levels[:n] {
		total += l.Size
	}
	return total
}

// LatestTrade returns the most recent print by timestamp, or nil when empty.
func LatestTrade(trades []TradePrint) *TradePrint {
	var latest *TradePrint
	for i := range trades {
		if latest == nil || trades[i].Timestamp.After(latest.Timestamp) {
			latest = &trades[i]
		}
	}
	return latest
}
