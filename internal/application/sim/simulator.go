package sim

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alejandrodnm/polypipe/internal/domain"
)

// Skip reasons for orders the simulator refuses to fill.
const (
	SkipMissingOrderID     = "missing_order_id"
	SkipPortfolioMismatch  = "portfolio_mismatch"
	SkipRejectedByGate     = "rejected_by_gate"
	SkipAwaitingApproval   = "awaiting_human_approval"
	SkipUnsupportedStatus  = "unsupported_order_status"
	SkipUnsupportedSide    = "unsupported_side"
	SkipNonPositiveQty     = "non_positive_quantity"
	SkipAlreadyFilled      = "already_filled"
	SkipMissingDecision    = "missing_decision_record"
	SkipNoLiquidity        = "no_available_liquidity"
	SkipReplayMismatch     = "position_replay_mismatch"
	SkipDuplicateOrderPass = "duplicate_order_in_pass"
)

// FillModel selects how fills are produced.
type FillModel string

const (
	// FillModelBook walks the available liquidity levels, producing one
	// execution per price level consumed.
	FillModelBook FillModel = "book"
	// FillModelRatio fills a configured fraction of the order against a
	// single reference price with slippage.
	FillModelRatio FillModel = "ratio"
)

// Config holds simulation parameters.
type Config struct {
	FillModel        FillModel
	FillRatio        float64
	FeeBps           float64
	SlippageBps      float64
	ExecuteProposed  bool
	SimulationPrefix string
}

// DefaultConfig walks the book, fills fully when depth allows, and charges
// 10 bps fees with 5 bps slippage on reference-price fills.
func DefaultConfig() Config {
	return Config{
		FillModel:        FillModelBook,
		FillRatio:        1.0,
		FeeBps:           10,
		SlippageBps:      5,
		SimulationPrefix: "sim",
	}
}

// Liquidity is the depth available to orders on one outcome, already
// oriented to the taker side (levels best-first). ReferencePrice backs
// ratio fills and outcomes with no captured levels.
type Liquidity struct {
	ReferencePrice float64
	Levels         []domain.BookLevel
}

// Result is everything one simulation pass produced.
type Result struct {
	SimulationID    string
	GeneratedAt     time.Time
	ExecutedOrders  []domain.ExecutedOrder
	SkippedOrders   []domain.SkippedOrder
	Executions      []domain.Execution
	AuditTrail      []domain.AuditEntry
	PositionUpdates []domain.Position
	PnL             domain.PnLSummary
	Bundle          domain.ExecutionBundle
}

// Simulator fills orders against simulated liquidity and keeps portfolio
// state consistent. All executions touching the same position run on this
// single logical thread; there is no concurrent read-modify-write.
type Simulator struct {
	cfg Config
	now func() time.Time
}

// New creates a Simulator, filling zero config fields with defaults.
func New(cfg Config) *Simulator {
	def := DefaultConfig()
	if cfg.FillModel == "" {
		cfg.FillModel = def.FillModel
	}
	if cfg.FillRatio <= 0 || cfg.FillRatio > 1 {
		cfg.FillRatio = def.FillRatio
	}
	// Zero means "use default"; pass a negative to disable fees/slippage.
	if cfg.FeeBps == 0 {
		cfg.FeeBps = def.FeeBps
	} else if cfg.FeeBps < 0 {
		cfg.FeeBps = 0
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = def.SlippageBps
	} else if cfg.SlippageBps < 0 {
		cfg.SlippageBps = 0
	}
	if cfg.SimulationPrefix == "" {
		cfg.SimulationPrefix = def.SimulationPrefix
	}
	return &Simulator{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Run simulates one pass over the given orders for one portfolio. Liquidity
// is keyed by outcome id and consumed as orders fill: two orders on the same
// outcome compete for the same depth. Insufficient liquidity is not an
// error; the order keeps its unfilled remainder and stays submitted.
func (s *Simulator) Run(
	bundle domain.ExecutionBundle,
	orders []domain.Order,
	decisions []domain.DecisionRecord,
	report domain.GateReport,
	liquidity map[string]Liquidity,
	portfolioID string,
) Result {
	now := s.now()
	simID := fmt.Sprintf("%s_%s", s.cfg.SimulationPrefix, compactTimestamp(now))

	decisionsByID := make(map[string]domain.DecisionRecord, len(decisions))
	for _, d := range decisions {
		decisionsByID[d.ID] = d
	}

	book := newPositionBook(bundle)
	executionIDs := make(map[string]bool, len(bundle.Executions))
	for _, e := range bundle.Executions {
		executionIDs[e.ID] = true
	}
	filledByOrder := make(map[string]float64)
	for _, e := range bundle.Executions {
		filledByOrder[e.OrderID] += e.FilledQuantity
	}

	res := Result{SimulationID: simID, GeneratedAt: now, Bundle: bundle}
	seenThisPass := make(map[string]bool, len(orders))
	// Per-pair history rebuilt from the persisted execution records, the
	// replay audit's independent input.
	history := make(map[pairKey][]fill)
	histSeq := 0

	for _, order := range orders {
		if order.ID == "" {
			res.SkippedOrders = append(res.SkippedOrders, domain.SkippedOrder{Reason: SkipMissingOrderID})
			continue
		}
		if seenThisPass[order.ID] {
			res.SkippedOrders = append(res.SkippedOrders, domain.SkippedOrder{OrderID: order.ID, Reason: SkipDuplicateOrderPass})
			continue
		}
		seenThisPass[order.ID] = true

		if reason, ok := s.admit(order, portfolioID); !ok {
			res.SkippedOrders = append(res.SkippedOrders, domain.SkippedOrder{OrderID: order.ID, Reason: reason})
			continue
		}

		decision, ok := decisionsByID[order.DecisionRecordID]
		if !ok {
			linkErr := &domain.LinkageError{Entity: "order", ID: order.ID, Kind: "decision_record", Ref: order.DecisionRecordID}
			slog.Warn("order failed audit linkage", "err", linkErr)
			res.SkippedOrders = append(res.SkippedOrders, domain.SkippedOrder{OrderID: order.ID, Reason: SkipMissingDecision})
			continue
		}

		pk := pairKey{portfolio: portfolioID, market: order.MarketID, outcome: order.OutcomeID}
		if book.isFrozen(pk) {
			res.SkippedOrders = append(res.SkippedOrders, domain.SkippedOrder{OrderID: order.ID, Reason: SkipReplayMismatch})
			continue
		}

		remaining := order.Quantity - filledByOrder[order.ID]
		if remaining <= replayEpsilon {
			res.SkippedOrders = append(res.SkippedOrders, domain.SkippedOrder{OrderID: order.ID, Reason: SkipAlreadyFilled})
			continue
		}

		fills := s.fill(order, remaining, liquidity)
		if len(fills) == 0 {
			res.SkippedOrders = append(res.SkippedOrders, domain.SkippedOrder{OrderID: order.ID, Reason: SkipNoLiquidity})
			continue
		}

		// The audit replays execution records, so the side comes from the
		// bundle's own order record when one exists. A conflicting record
		// surfaces as a replay mismatch instead of corrupting positions.
		auditSide := order.Side
		if stored, ok := res.Bundle.OrderByID(order.ID); ok {
			auditSide = stored.Side
		}

		var orderFilled, orderNotional, orderFees float64
		var executionIDsForOrder []string
		for _, lv := range fills {
			execID := nextExecutionID(executionIDs, order.ID)
			notional := lv.qty * lv.price
			fee := notional * s.cfg.FeeBps / 10000
			exec := domain.Execution{
				ID:             execID,
				OrderID:        order.ID,
				Timestamp:      now,
				FilledQuantity: lv.qty,
				FilledPrice:    lv.price,
				TxHash:         fmt.Sprintf("%s_%s_%03d", simID, order.ID, len(res.Executions)+1),
				FeeUSD:         fee,
			}
			res.Executions = append(res.Executions, exec)
			res.Bundle.Executions = append(res.Bundle.Executions, exec)
			filledByOrder[order.ID] += lv.qty
			histSeq++
			history[pk] = append(history[pk], fill{
				Side:      auditSide,
				Quantity:  exec.FilledQuantity,
				Price:     exec.FilledPrice,
				Timestamp: exec.Timestamp,
				Seq:       histSeq,
			})

			realized := book.applyFill(pk, order.Side, lv.qty, lv.price)
			res.PnL.RealizedPnLUSD += realized

			res.AuditTrail = append(res.AuditTrail, auditEntry(simID, exec, order, decision, report))
			orderFilled += lv.qty
			orderNotional += notional
			orderFees += fee
			executionIDsForOrder = append(executionIDsForOrder, execID)
		}

		status := domain.OrderSubmitted
		if order.Quantity-filledByOrder[order.ID] <= replayEpsilon {
			status = domain.OrderFilled
		}
		upsertOrder(&res.Bundle, order, status)

		avgPrice := 0.0
		if orderFilled > 0 {
			avgPrice = orderNotional / orderFilled
		}
		res.ExecutedOrders = append(res.ExecutedOrders, domain.ExecutedOrder{
			OrderID:          order.ID,
			DecisionRecordID: order.DecisionRecordID,
			ExecutionIDs:     executionIDsForOrder,
			FilledQuantity:   orderFilled,
			AvgFilledPrice:   avgPrice,
			NotionalUSD:      orderNotional,
			FeeUSD:           orderFees,
			StatusAfter:      status,
		})
		res.PnL.GrossNotionalUSD += orderNotional
		res.PnL.FeeUSD += orderFees

		// Replay audit: rederive the pair from its base exposure plus the
		// execution records this pass persisted and compare with the
		// incremental state. A mismatch freezes the pair; its later orders
		// are refused, never half-applied.
		if err := book.verify(pk, history[pk]); err != nil {
			slog.Error("position replay audit failed", "order_id", order.ID, "err", err)
		}
	}

	res.Bundle.Positions = book.materialize()
	res.PositionUpdates = book.touchedSnapshots()
	res.PnL.NetRealizedPnLUSD = res.PnL.RealizedPnLUSD - res.PnL.FeeUSD
	for _, p := range res.Bundle.Positions {
		res.PnL.TotalUnrealizedPnLUSD += p.UnrealizedPnL
		switch p.Status {
		case domain.PositionOpen:
			res.PnL.OpenPositions++
		case domain.PositionClosed:
			res.PnL.ClosedPositions++
		}
	}

	slog.Info("paper simulation complete",
		"simulation_id", simID,
		"orders_in", len(orders),
		"executed", len(res.ExecutedOrders),
		"skipped", len(res.SkippedOrders),
		"executions", len(res.Executions),
		"realized_pnl", fmt.Sprintf("$%.4f", res.PnL.RealizedPnLUSD),
	)
	return res
}

// admit runs the order state-machine checks. Only proposed (with auto
// approval), approved, and submitted orders are fillable.
func (s *Simulator) admit(order domain.Order, portfolioID string) (string, bool) {
	if order.PortfolioID != portfolioID {
		return SkipPortfolioMismatch, false
	}
	switch order.Status {
	case domain.OrderRejected:
		return SkipRejectedByGate, false
	case domain.OrderProposed:
		if !s.cfg.ExecuteProposed {
			return SkipAwaitingApproval, false
		}
	case domain.OrderApproved, domain.OrderSubmitted:
	default:
		return fmt.Sprintf("%s:%s", SkipUnsupportedStatus, order.Status), false
	}
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return SkipUnsupportedSide, false
	}
	if order.Quantity <= 0 {
		return SkipNonPositiveQty, false
	}
	return "", true
}

// levelFill is one (quantity, price) slice of a fill.
type levelFill struct {
	qty   float64
	price float64
}

// fill produces the fills for one order, consuming shared liquidity. Book
// orders walk depth level by level and respect limit prices; outcomes with
// no captured levels degrade to a single ratio fill at the reference price.
func (s *Simulator) fill(order domain.Order, remaining float64, liquidity map[string]Liquidity) []levelFill {
	liq, hasLiq := liquidity[order.OutcomeID]
	if s.cfg.FillModel == FillModelBook && hasLiq && len(liq.Levels) > 0 {
		fills, levels := walkLevels(order, remaining, liq.Levels)
		liq.Levels = levels
		liquidity[order.OutcomeID] = liq
		return fills
	}

	qty := remaining * s.cfg.FillRatio
	if qty <= 0 {
		return nil
	}
	base := basePrice(order, liq)
	price := applySlippage(base, order.Side, s.cfg.SlippageBps)
	return []levelFill{{qty: qty, price: price}}
}

// walkLevels consumes depth best-first up to the remaining quantity,
// returning one fill per level touched plus the depth left behind.
func walkLevels(order domain.Order, remaining float64, levels []domain.BookLevel) ([]levelFill, []domain.BookLevel) {
	var fills []levelFill
	rest := make([]domain.BookLevel, 0, len(levels))
	for i, lv := range levels {
		if remaining <= replayEpsilon {
			rest = append(rest, levels[i:]...)
			break
		}
		if order.OrderType == domain.OrderLimit && order.LimitPrice != nil && !withinLimit(order.Side, lv.Price, *order.LimitPrice) {
			rest = append(rest, levels[i:]...)
			break
		}
		take := math.Min(lv.Size, remaining)
		if take <= 0 {
			continue
		}
		fills = append(fills, levelFill{qty: take, price: lv.Price})
		remaining -= take
		if lv.Size > take {
			rest = append(rest, domain.BookLevel{Price: lv.Price, Size: lv.Size - take})
		}
	}
	return fills, rest
}

func withinLimit(side domain.OrderSide, levelPrice, limit float64) bool {
	if side == domain.SideBuy {
		return levelPrice <= limit
	}
	return levelPrice >= limit
}

func basePrice(order domain.Order, liq Liquidity) float64 {
	if order.LimitPrice != nil && *order.LimitPrice > 0 {
		return *order.LimitPrice
	}
	if liq.ReferencePrice > 0 {
		return liq.ReferencePrice
	}
	return 0.5
}

func applySlippage(price float64, side domain.OrderSide, bps float64) float64 {
	mult := 1 + bps/10000
	if side == domain.SideSell {
		mult = 1 - bps/10000
	}
	return domain.Clamp(price*mult, 0.000001, 1)
}

func auditEntry(simID string, exec domain.Execution, order domain.Order, decision domain.DecisionRecord, report domain.GateReport) domain.AuditEntry {
	entry := domain.AuditEntry{
		ExecutionID:      exec.ID,
		OrderID:          order.ID,
		DecisionRecordID: decision.ID,
		EvidenceRefs:     append([]string(nil), decision.EvidenceRefs...),
		SimulationID:     simID,
	}
	if res, ok := report.ResultFor(decision.ID); ok {
		entry.RiskGate = res.RiskGate
		entry.RequiresHumanApproval = res.RequiresHumanApproval
	}
	return entry
}

// upsertOrder records the order's post-simulation status in the bundle,
// refusing illegal state-machine regressions.
func upsertOrder(bundle *domain.ExecutionBundle, order domain.Order, status domain.OrderStatus) {
	for i := range bundle.Orders {
		if bundle.Orders[i].ID != order.ID {
			continue
		}
		bundle.Orders[i].Status = advanceStatus(bundle.Orders[i].Status, status)
		return
	}
	order.Status = status
	bundle.Orders = append(bundle.Orders, order)
}

// advanceStatus walks the order state machine from cur toward target.
// Filling a proposed or approved order implies the submit step happened in
// this pass, so the walk passes through submitted when the direct edge does
// not exist. Illegal regressions leave cur untouched.
func advanceStatus(cur, target domain.OrderStatus) domain.OrderStatus {
	if cur == target || cur.CanTransition(target) {
		return target
	}
	if cur.CanTransition(domain.OrderSubmitted) && domain.OrderSubmitted.CanTransition(target) {
		return target
	}
	return cur
}

func nextExecutionID(existing map[string]bool, orderID string) string {
	base := "exe_sim_" + orderID
	id := base
	for suffix := 2; existing[id]; suffix++ {
		id = fmt.Sprintf("%s_%d", base, suffix)
	}
	existing[id] = true
	return id
}

func compactTimestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05Z")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, "T", "_")
	return strings.TrimSuffix(s, "Z")
}
