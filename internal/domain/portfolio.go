package domain

import "time"

// PortfolioStatus is the lifecycle state of a portfolio account.
type PortfolioStatus string

const (
	PortfolioActive   PortfolioStatus = "active"
	PortfolioPaused   PortfolioStatus = "paused"
	PortfolioArchived PortfolioStatus = "archived"
)

// PortfolioAccount owns positions and is governed by one risk policy.
// Only the execution simulator mutates portfolio state.
type PortfolioAccount struct {
	ID           string          `json:"id"`
	BaseCurrency string          `json:"base_currency"`
	Status       PortfolioStatus `json:"status"`
	RiskPolicyID string          `json:"risk_policy_id"`
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// PositionStatus tracks whether a position holds size.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is the running state of one (portfolio, outcome, side) exposure.
// Size and AvgEntryPrice must stay derivable by replaying the position's
// executions in timestamp order.
type Position struct {
	ID            string         `json:"id"`
	PortfolioID   string         `json:"portfolio_id"`
	MarketID      string         `json:"market_id"`
	OutcomeID     string         `json:"outcome_id"`
	Side          PositionSide   `json:"side"`
	Size          float64        `json:"size"`
	AvgEntryPrice float64        `json:"avg_entry_price"`
	MarkPrice     float64        `json:"mark_price"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	Status        PositionStatus `json:"status"`
}

// RecomputeUnrealized refreshes UnrealizedPnL from the current mark price
// and flips status when size reaches zero.
func (p *Position) RecomputeUnrealized() {
	if p.Side == PositionShort {
		p.UnrealizedPnL = (p.AvgEntryPrice - p.MarkPrice) * p.Size
	} else {
		p.UnrealizedPnL = (p.MarkPrice - p.AvgEntryPrice) * p.Size
	}
	if p.Size <= 0 {
		p.Size = 0
		p.UnrealizedPnL = 0
		p.Status = PositionClosed
	} else {
		p.Status = PositionOpen
	}
}

// Notional returns the position's current mark-to-market notional.
func (p Position) Notional() float64 {
	return p.Size * p.MarkPrice
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderStatus is the order state machine:
// proposed → (approved | rejected) → submitted → (filled | canceled).
// Transitions are one-directional; no order regresses.
type OrderStatus string

const (
	OrderProposed  OrderStatus = "proposed"
	OrderApproved  OrderStatus = "approved"
	OrderSubmitted OrderStatus = "submitted"
	OrderFilled    OrderStatus = "filled"
	OrderCanceled  OrderStatus = "canceled"
	OrderRejected  OrderStatus = "rejected"
)

// CanTransition reports whether moving from s to next is a legal forward step.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	switch s {
	case OrderProposed:
		return next == OrderApproved || next == OrderRejected || next == OrderSubmitted
	case OrderApproved:
		return next == OrderSubmitted
	case OrderSubmitted:
		return next == OrderSubmitted || next == OrderFilled || next == OrderCanceled
	}
	return false
}

// Order is a policy-checked order proposal. DecisionRecordID must reference
// an existing DecisionRecord.
type Order struct {
	ID               string      `json:"id"`
	PortfolioID      string      `json:"portfolio_id"`
	MarketID         string      `json:"market_id"`
	OutcomeID        string      `json:"outcome_id"`
	Side             OrderSide   `json:"side"`
	OrderType        OrderType   `json:"order_type"`
	Quantity         float64     `json:"quantity"`
	LimitPrice       *float64    `json:"limit_price"`
	Status           OrderStatus `json:"status"`
	DecisionRecordID string      `json:"decision_record_id"`
}

// Execution is one simulated fill against an order. An order may carry 0..N
// executions; their filled quantities never sum past Order.Quantity.
type Execution struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	Timestamp      time.Time `json:"timestamp"`
	FilledQuantity float64   `json:"filled_quantity"`
	FilledPrice    float64   `json:"filled_price"`
	TxHash         string    `json:"tx_hash"`
	FeeUSD         float64   `json:"fee_usd"`
}
