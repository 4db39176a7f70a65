package risk

import (
	"errors"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/uhyunpark/duelengine/pkg/app/core/ledger"
)

// LiquidationBuffer is the fraction of margin a position may lose before it is liquidated.
// The remaining 10% keeps liquidation ahead of a full margin wipe.
const LiquidationBuffer = 0.9

// LiquidationPrice returns the price at which an isolated position is force-closed
//
//	long:  entry × (1 − (1/leverage) × 0.9)
//	short: entry × (1 + (1/leverage) × 0.9)
func LiquidationPrice(dir ledger.Direction, entry, leverage float64) float64 {
	if leverage <= 0 {
		return 0
	}
	move := (1 / leverage) * LiquidationBuffer
	if dir == ledger.Short {
		return entry * (1 + move)
	}
	return entry * (1 - move)
}

type EventKind int8

const (
	// EventClosed: a trigger closed a position
	EventClosed EventKind = iota + 1
	// EventFilled: a limit order crossed and became a position
	EventFilled
	// EventDropped: a limit order crossed but failed validation at fill time
	EventDropped
)

func (k EventKind) String() string {
	switch k {
	case EventClosed:
		return "closed"
	case EventFilled:
		return "filled"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event reports one state change made while evaluating a tick
type Event struct {
	Kind     EventKind
	Symbol   string
	Price    float64
	Trade    ledger.Trade      // EventClosed
	Position ledger.Position   // EventFilled
	Order    ledger.LimitOrder // EventFilled, EventDropped
	Err      error             // EventDropped
}

// Engine evaluates price ticks against one ledger
type Engine struct {
	ledger *ledger.Ledger
	logger *zap.SugaredLogger
}

func NewEngine(l *ledger.Ledger, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{ledger: l, logger: logger}
}

// OnTick evaluates every symbol present in prices.
//
// Process, per symbol (symbols in lexical order for deterministic replay):
//  1. Open positions on the symbol, in open order: liquidation, then stop-loss,
//     then take-profit, then trailing stop. The first trigger closes the position
//     at the tick price; a position is never closed twice in one tick.
//  2. Pending limit orders on the symbol, in placement order: a crossed order
//     fills at its limit price, and the new position is then checked against
//     the same tick price.
//
// Prices that are not finite and positive are skipped. OnTick never fails.
func (e *Engine) OnTick(prices map[string]float64) []Event {
	symbols := make([]string, 0, len(prices))
	for sym, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			continue
		}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var events []Event
	for _, sym := range symbols {
		price := prices[sym]
		events = e.evaluatePositions(sym, price, events)
		events = e.evaluateOrders(sym, price, events)
	}
	return events
}

func (e *Engine) evaluatePositions(sym string, price float64, events []Event) []Event {
	for _, pos := range e.ledger.OpenOn(sym) {
		events = e.evaluatePosition(pos, price, events)
	}
	return events
}

// evaluatePosition closes pos at price when a trigger fires
func (e *Engine) evaluatePosition(pos ledger.Position, price float64, events []Event) []Event {
	reason, hit := e.trigger(pos, price)
	if !hit {
		return events
	}
	trade, err := e.ledger.Close(pos.ID, price, reason)
	if err != nil {
		e.logger.Warnw("trigger_close_failed", "position_id", pos.ID, "reason", reason, "err", err)
		return events
	}
	if reason == ledger.ReasonLiquidation {
		e.logger.Infow("position_liquidated",
			"position_id", pos.ID,
			"symbol", pos.Symbol,
			"price", price,
			"liquidation_price", LiquidationPrice(pos.Direction, pos.EntryPrice, pos.Leverage),
			"pnl", trade.PnL,
		)
	} else {
		e.logger.Infow("position_triggered", "position_id", pos.ID, "symbol", pos.Symbol, "reason", reason, "price", price, "pnl", trade.PnL)
	}
	return append(events, Event{Kind: EventClosed, Symbol: pos.Symbol, Price: price, Trade: trade})
}

// trigger returns the close reason for the first condition pos meets at price.
// A trailing stop ratchets before it is compared.
func (e *Engine) trigger(pos ledger.Position, price float64) (ledger.CloseReason, bool) {
	long := pos.Direction == ledger.Long

	liq := LiquidationPrice(pos.Direction, pos.EntryPrice, pos.Leverage)
	if (long && price <= liq) || (!long && price >= liq) {
		return ledger.ReasonLiquidation, true
	}
	if pos.StopLoss != nil {
		sl := *pos.StopLoss
		if (long && price <= sl) || (!long && price >= sl) {
			return ledger.ReasonStopLoss, true
		}
	}
	if pos.TakeProfit != nil {
		tp := *pos.TakeProfit
		if (long && price >= tp) || (!long && price <= tp) {
			return ledger.ReasonTakeProfit, true
		}
	}
	if pos.TrailingDistance != nil {
		if updated, moved := e.ledger.Ratchet(pos.ID, price); moved {
			pos = updated
		}
		stop, _ := pos.TrailingStopPrice()
		if (long && price <= stop) || (!long && price >= stop) {
			// trailing stops realize as a stop-loss
			return ledger.ReasonStopLoss, true
		}
	}
	return "", false
}

func (e *Engine) evaluateOrders(sym string, price float64, events []Event) []Event {
	for _, o := range e.ledger.OrdersOn(sym) {
		if !o.Crosses(price) {
			continue
		}
		pos, err := e.ledger.FillLimitOrder(o.ID, o.LimitPrice)
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				e.logger.Infow("limit_order_dropped", "order_id", o.ID, "symbol", sym, "size", o.Size, "balance", e.ledger.Balance())
			} else {
				e.logger.Warnw("limit_order_dropped", "order_id", o.ID, "symbol", sym, "err", err)
			}
			events = append(events, Event{Kind: EventDropped, Symbol: sym, Price: price, Order: o, Err: err})
			continue
		}
		e.logger.Infow("limit_order_filled", "order_id", o.ID, "position_id", pos.ID, "symbol", sym, "fill_price", o.LimitPrice, "tick_price", price)
		events = append(events, Event{Kind: EventFilled, Symbol: sym, Price: price, Position: pos, Order: o})
		// a gapped tick can already be past the new position's levels
		events = e.evaluatePosition(pos, price, events)
	}
	return events
}
