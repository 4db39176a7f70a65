package ledger

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/uhyunpark/duelengine/pkg/app/core/asset"
)

// Ledger owns the balance, positions, pending limit orders and trade journal of one
// participant in one match. Not safe for concurrent use; the engine serializes access.
//
// Positions are never deleted: closed records stay in the map for stats and audit.
// Open positions and orders are additionally indexed by symbol so a tick only
// touches the symbols whose price changed.
type Ledger struct {
	catalog *asset.Catalog
	now     func() time.Time
	newID   func() string

	balance float64

	positions map[string]Position            // id -> record (open and closed)
	history   []string                       // ids in open order
	openBySym map[string]map[string]struct{} // symbol -> open position ids

	orders      map[string]LimitOrder
	ordersBySym map[string]map[string]struct{}

	trades []Trade
	seq    uint64
}

// New creates a ledger funded with balance
func New(catalog *asset.Catalog, balance float64, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		catalog:     catalog,
		now:         now,
		newID:       uuid.NewString,
		balance:     balance,
		positions:   make(map[string]Position),
		openBySym:   make(map[string]map[string]struct{}),
		orders:      make(map[string]LimitOrder),
		ordersBySym: make(map[string]map[string]struct{}),
	}
}

func (l *Ledger) Balance() float64 { return l.balance }

// Open debits req.Size and creates an open position at price
func (l *Ledger) Open(req OpenRequest, price float64) (Position, error) {
	if !validPrice(price) {
		return Position{}, fmt.Errorf("open %s at %v: %w", req.Symbol, price, ErrInvalidPrice)
	}
	if err := l.validate(req, price); err != nil {
		return Position{}, err
	}

	l.seq++
	pos := Position{
		ID:               l.newID(),
		Symbol:           req.Symbol,
		Direction:        req.Direction,
		Size:             req.Size,
		Leverage:         req.Leverage,
		EntryPrice:       price,
		StopLoss:         copyLevel(req.StopLoss),
		TakeProfit:       copyLevel(req.TakeProfit),
		TrailingDistance: copyLevel(req.TrailingDistance),
		OpenedAt:         l.now(),
		Status:           StatusOpen,
		seq:              l.seq,
	}
	if pos.TrailingDistance != nil {
		pos.TrailingAnchor = price
	}

	l.balance -= req.Size
	l.positions[pos.ID] = pos
	l.history = append(l.history, pos.ID)
	index(l.openBySym, pos.Symbol, pos.ID)
	return pos, nil
}

// PlaceLimitOrder validates like Open (against the limit price) but only stores the order.
// The balance is debited when the order fills.
func (l *Ledger) PlaceLimitOrder(req OpenRequest, limitPrice float64) (LimitOrder, error) {
	if !validPrice(limitPrice) {
		return LimitOrder{}, fmt.Errorf("limit price %v: %w", limitPrice, ErrInvalidPrice)
	}
	if err := l.validate(req, limitPrice); err != nil {
		return LimitOrder{}, err
	}

	l.seq++
	o := LimitOrder{
		ID:               l.newID(),
		Symbol:           req.Symbol,
		Direction:        req.Direction,
		LimitPrice:       limitPrice,
		Size:             req.Size,
		Leverage:         req.Leverage,
		StopLoss:         copyLevel(req.StopLoss),
		TakeProfit:       copyLevel(req.TakeProfit),
		TrailingDistance: copyLevel(req.TrailingDistance),
		CreatedAt:        l.now(),
		seq:              l.seq,
	}
	l.orders[o.ID] = o
	index(l.ordersBySym, o.Symbol, o.ID)
	return o, nil
}

// CancelLimitOrder removes a pending order
func (l *Ledger) CancelLimitOrder(id string) (LimitOrder, error) {
	o, ok := l.orders[id]
	if !ok {
		return LimitOrder{}, fmt.Errorf("cancel %s: %w", id, ErrOrderNotFound)
	}
	l.removeOrder(o)
	return o, nil
}

// FillLimitOrder removes the order and opens a position at fillPrice.
// The order is consumed even when the open fails validation.
func (l *Ledger) FillLimitOrder(id string, fillPrice float64) (Position, error) {
	o, ok := l.orders[id]
	if !ok {
		return Position{}, fmt.Errorf("fill %s: %w", id, ErrOrderNotFound)
	}
	l.removeOrder(o)
	return l.Open(OpenRequest{
		Symbol:           o.Symbol,
		Direction:        o.Direction,
		Size:             o.Size,
		Leverage:         o.Leverage,
		StopLoss:         o.StopLoss,
		TakeProfit:       o.TakeProfit,
		TrailingDistance: o.TrailingDistance,
	}, fillPrice)
}

// DropOrders removes every pending order and returns how many were dropped
func (l *Ledger) DropOrders() int {
	n := len(l.orders)
	l.orders = make(map[string]LimitOrder)
	l.ordersBySym = make(map[string]map[string]struct{})
	return n
}

// Close realizes the full position at price.
// Realized loss is floored at the margin: isolated margin cannot go below zero.
func (l *Ledger) Close(id string, price float64, reason CloseReason) (Trade, error) {
	pos, err := l.openPosition(id)
	if err != nil {
		return Trade{}, err
	}
	if !validPrice(price) {
		return Trade{}, fmt.Errorf("close %s at %v: %w", id, price, ErrInvalidPrice)
	}

	pnl := floorLoss(pos.PnL(price), pos.Size)
	l.balance += pos.Size + pnl

	trade := tradeOf(pos, pos.Size, price, pnl, reason, l.now())

	pos.Status = StatusClosed
	pos.CloseReason = reason
	pos.ExitPrice = price
	pos.ClosedAt = trade.At
	pos.RealizedPnL += pnl
	l.positions[id] = pos
	unindex(l.openBySym, pos.Symbol, id)

	l.trades = append(l.trades, trade)
	return trade, nil
}

// ClosePartial realizes fraction of the position's size at price.
// A fraction of 1 is a full close tagged with reason partial.
func (l *Ledger) ClosePartial(id string, fraction, price float64) (Trade, error) {
	if math.IsNaN(fraction) || fraction <= 0 || fraction > 1 {
		return Trade{}, fmt.Errorf("close %s: %w", id, ErrInvalidFraction)
	}
	if fraction == 1 {
		return l.Close(id, price, ReasonPartial)
	}

	pos, err := l.openPosition(id)
	if err != nil {
		return Trade{}, err
	}
	if !validPrice(price) {
		return Trade{}, fmt.Errorf("close %s at %v: %w", id, price, ErrInvalidPrice)
	}

	closed := pos.Size * fraction
	pnl := floorLoss(PnL(pos.Direction, closed, pos.Leverage, pos.EntryPrice, price), closed)
	l.balance += closed + pnl

	trade := tradeOf(pos, closed, price, pnl, ReasonPartial, l.now())

	pos.Size -= closed
	pos.RealizedPnL += pnl
	l.positions[id] = pos

	l.trades = append(l.trades, trade)
	return trade, nil
}

// UpdateStops replaces SL/TP atomically after validating the new levels against entry.
func (l *Ledger) UpdateStops(id string, u StopUpdate) (Position, error) {
	pos, err := l.openPosition(id)
	if err != nil {
		return Position{}, err
	}

	next := pos
	if u.ClearStopLoss {
		next.StopLoss = nil
	}
	if u.ClearTakeProfit {
		next.TakeProfit = nil
	}
	if u.StopLoss != nil {
		next.StopLoss = copyLevel(u.StopLoss)
		next.TrailingDistance = nil
		next.TrailingAnchor = 0
	}
	if u.TakeProfit != nil {
		next.TakeProfit = copyLevel(u.TakeProfit)
	}

	if err := validateStops(next.Direction, next.EntryPrice, next.StopLoss, next.TakeProfit, next.TrailingDistance); err != nil {
		return Position{}, fmt.Errorf("update %s: %w", id, err)
	}
	l.positions[id] = next
	return next, nil
}

// Ratchet moves the trailing anchor in the position's favor. It never moves it back.
func (l *Ledger) Ratchet(id string, price float64) (Position, bool) {
	pos, ok := l.positions[id]
	if !ok || !pos.IsOpen() || pos.TrailingDistance == nil {
		return pos, false
	}
	improved := (pos.Direction == Long && price > pos.TrailingAnchor) ||
		(pos.Direction == Short && price < pos.TrailingAnchor)
	if !improved {
		return pos, false
	}
	pos.TrailingAnchor = price
	l.positions[id] = pos
	return pos, true
}

// Position returns the record for id, open or closed
func (l *Ledger) Position(id string) (Position, bool) {
	p, ok := l.positions[id]
	return p, ok
}

// Positions returns every position ever opened, in open order
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.history))
	for _, id := range l.history {
		out = append(out, l.positions[id])
	}
	return out
}

// OpenPositions returns open positions in open order
func (l *Ledger) OpenPositions() []Position {
	out := make([]Position, 0)
	for _, id := range l.history {
		if p := l.positions[id]; p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// OpenOn returns open positions on symbol in open order
func (l *Ledger) OpenOn(symbol string) []Position {
	ids := l.openBySym[symbol]
	out := make([]Position, 0, len(ids))
	for id := range ids {
		out = append(out, l.positions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (l *Ledger) OpenCount() int {
	n := 0
	for _, ids := range l.openBySym {
		n += len(ids)
	}
	return n
}

// Orders returns pending orders in placement order
func (l *Ledger) Orders() []LimitOrder {
	out := make([]LimitOrder, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// OrdersOn returns pending orders on symbol in placement order
func (l *Ledger) OrdersOn(symbol string) []LimitOrder {
	ids := l.ordersBySym[symbol]
	out := make([]LimitOrder, 0, len(ids))
	for id := range ids {
		out = append(out, l.orders[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Trades returns the realization journal
func (l *Ledger) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// LockedMargin is the margin committed to open positions
func (l *Ledger) LockedMargin() float64 {
	total := 0.0
	for _, ids := range l.openBySym {
		for id := range ids {
			total += l.positions[id].Size
		}
	}
	return total
}

// UnrealizedPnL sums open-position PnL using priceOf; symbols without a price are skipped.
func (l *Ledger) UnrealizedPnL(priceOf func(symbol string) (float64, bool)) float64 {
	total := 0.0
	for sym, ids := range l.openBySym {
		price, ok := priceOf(sym)
		if !ok {
			continue
		}
		for id := range ids {
			total += l.positions[id].PnL(price)
		}
	}
	return total
}

func (l *Ledger) validate(req OpenRequest, entry float64) error {
	a, ok := l.catalog.Get(req.Symbol)
	if !ok {
		return fmt.Errorf("%q: %w", req.Symbol, ErrUnknownAsset)
	}
	if !req.Direction.Valid() {
		return ErrInvalidSide
	}
	if math.IsNaN(req.Size) || math.IsInf(req.Size, 0) || req.Size <= 0 {
		return fmt.Errorf("size %v: %w", req.Size, ErrInvalidSize)
	}
	if req.Size > l.balance {
		return fmt.Errorf("size %.2f exceeds balance %.2f: %w", req.Size, l.balance, ErrInsufficientBalance)
	}
	if !a.ValidLeverage(req.Leverage) {
		return fmt.Errorf("leverage %v outside [1, %d] for %s: %w", req.Leverage, a.MaxLeverage, a.Symbol, ErrInvalidLeverage)
	}
	return validateStops(req.Direction, entry, req.StopLoss, req.TakeProfit, req.TrailingDistance)
}

func (l *Ledger) openPosition(id string) (Position, error) {
	pos, ok := l.positions[id]
	if !ok || !pos.IsOpen() {
		return Position{}, fmt.Errorf("position %s: %w", id, ErrPositionNotFound)
	}
	return pos, nil
}

func (l *Ledger) removeOrder(o LimitOrder) {
	delete(l.orders, o.ID)
	unindex(l.ordersBySym, o.Symbol, o.ID)
}

// validateStops enforces side-of-entry: long SL below / TP above, short inverted.
// Stop-loss and trailing stop are mutually exclusive.
func validateStops(dir Direction, entry float64, sl, tp, trailing *float64) error {
	if sl != nil && trailing != nil {
		return fmt.Errorf("stop-loss and trailing stop are exclusive: %w", ErrInvalidStopLevel)
	}
	if sl != nil {
		if !validPrice(*sl) || (dir == Long && *sl >= entry) || (dir == Short && *sl <= entry) {
			return fmt.Errorf("stop-loss %v on %s entry %v: %w", *sl, dir, entry, ErrInvalidStopLevel)
		}
	}
	if tp != nil {
		if !validPrice(*tp) || (dir == Long && *tp <= entry) || (dir == Short && *tp >= entry) {
			return fmt.Errorf("take-profit %v on %s entry %v: %w", *tp, dir, entry, ErrInvalidStopLevel)
		}
	}
	if trailing != nil && !validPrice(*trailing) {
		return fmt.Errorf("trailing distance %v: %w", *trailing, ErrInvalidStopLevel)
	}
	return nil
}

func tradeOf(pos Position, size, price, pnl float64, reason CloseReason, at time.Time) Trade {
	return Trade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Size:       size,
		Leverage:   pos.Leverage,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		PnL:        pnl,
		Reason:     reason,
		At:         at,
	}
}

func floorLoss(pnl, margin float64) float64 {
	if pnl < -margin {
		return -margin
	}
	return pnl
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

func copyLevel(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func index(m map[string]map[string]struct{}, sym, id string) {
	ids, ok := m[sym]
	if !ok {
		ids = make(map[string]struct{})
		m[sym] = ids
	}
	ids[id] = struct{}{}
}

func unindex(m map[string]map[string]struct{}, sym, id string) {
	ids, ok := m[sym]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(m, sym)
	}
}
