package domain

// ExecutionBundle is the fund execution state the pipeline reads and the
// simulator updates: accounts, policies, and the order/execution/position
// history accumulated by previous passes. Decision records ride along so a
// later pass can audit-link the orders it resumes.
type ExecutionBundle struct {
	PortfolioAccounts []PortfolioAccount `json:"portfolio_accounts"`
	RiskPolicies      []RiskPolicy       `json:"risk_policies"`
	Positions         []Position         `json:"positions"`
	Orders            []Order            `json:"orders"`
	Executions        []Execution        `json:"executions"`
	DecisionRecords   []DecisionRecord   `json:"decision_records,omitempty"`
}

// PortfolioByID returns the portfolio account with the given id.
func (b ExecutionBundle) PortfolioByID(id string) (PortfolioAccount, bool) {
	for _, p := range b.PortfolioAccounts {
		if p.ID == id {
			return p, true
		}
	}
	return PortfolioAccount{}, false
}

// PolicyByID returns the risk policy with the given id.
func (b ExecutionBundle) PolicyByID(id string) (RiskPolicy, bool) {
	for _, p := range b.RiskPolicies {
		if p.ID == id {
			return p, true
		}
	}
	return RiskPolicy{}, false
}

// OrderByID returns the order with the given id.
func (b ExecutionBundle) OrderByID(id string) (Order, bool) {
	for _, o := range b.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

// PendingOrders returns the portfolio's orders still eligible for
// execution on a later pass: approved or submitted, not yet filled.
func (b ExecutionBundle) PendingOrders(portfolioID string) []Order {
	var out []Order
	for _, o := range b.Orders {
		if o.PortfolioID != portfolioID {
			continue
		}
		if o.Status == OrderApproved || o.Status == OrderSubmitted {
			out = append(out, o)
		}
	}
	return out
}

// PositionNotionalByMarket sums mark-to-market notional per market for one
// portfolio's positions.
func (b ExecutionBundle) PositionNotionalByMarket(portfolioID string) map[string]float64 {
	totals := make(map[string]float64)
	for _, p := range b.Positions {
		if p.PortfolioID != portfolioID {
			continue
		}
		totals[p.MarketID] += p.Notional()
	}
	return totals
}

// TotalPositionNotional sums mark-to-market notional across one portfolio.
func (b ExecutionBundle) TotalPositionNotional(portfolioID string) float64 {
	var total float64
	for _, p := range b.Positions {
		if p.PortfolioID == portfolioID {
			total += p.Notional()
		}
	}
	return total
}

// DailyNotional sums filled notional for one portfolio's executions. The
// bundle is scoped to one evaluation window, so every execution counts.
func (b ExecutionBundle) DailyNotional(portfolioID string) float64 {
	orderIDs := make(map[string]bool)
	for _, o := range b.Orders {
		if o.PortfolioID == portfolioID {
			orderIDs[o.ID] = true
		}
	}
	var total float64
	for _, e := range b.Executions {
		if orderIDs[e.OrderID] {
			total += e.FilledQuantity * e.FilledPrice
		}
	}
	return total
}
