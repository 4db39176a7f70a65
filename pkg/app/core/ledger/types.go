package ledger

import (
	"fmt"
	"strings"
	"time"
)

type Direction int8

const (
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

func (d Direction) Valid() bool { return d == Long || d == Short }

// ParseDirection accepts "long"/"buy" and "short"/"sell" (case-insensitive)
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

type CloseReason string

const (
	ReasonManual      CloseReason = "manual"
	ReasonStopLoss    CloseReason = "stop-loss"
	ReasonTakeProfit  CloseReason = "take-profit"
	ReasonLiquidation CloseReason = "liquidation"
	ReasonMatchEnd    CloseReason = "match-end"
	ReasonPartial     CloseReason = "partial"
)

type Status int8

const (
	StatusOpen Status = iota
	StatusClosed
)

func (s Status) String() string {
	if s == StatusClosed {
		return "closed"
	}
	return "open"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open":
		*s = StatusOpen
	case "closed":
		*s = StatusClosed
	default:
		return fmt.Errorf("unknown position status %q", b)
	}
	return nil
}

// Position is an isolated-margin leveraged position.
// Records are values: every change produces a new Position stored under the same ID.
// Pointer fields are replaced, never written through.
type Position struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`

	// Size is the margin committed, in quote currency. Reduced by partial closes.
	Size     float64 `json:"size"`
	Leverage float64 `json:"leverage"`

	EntryPrice float64 `json:"entryPrice"`

	StopLoss         *float64 `json:"stopLoss,omitempty"`
	TakeProfit       *float64 `json:"takeProfit,omitempty"`
	TrailingDistance *float64 `json:"trailingDistance,omitempty"`
	// TrailingAnchor is the best price seen since entry (highest for longs, lowest for shorts)
	TrailingAnchor float64 `json:"trailingAnchor,omitempty"`

	OpenedAt time.Time `json:"openedAt"`
	Status   Status    `json:"status"`

	CloseReason CloseReason `json:"closeReason,omitempty"`
	ExitPrice   float64     `json:"exitPrice,omitempty"`
	ClosedAt    time.Time   `json:"closedAt,omitempty"`
	RealizedPnL float64     `json:"realizedPnl"`

	seq uint64
}

func (p Position) IsOpen() bool { return p.Status == StatusOpen }

// Notional returns size × leverage
func (p Position) Notional() float64 { return p.Size * p.Leverage }

// PnL is the unrealized profit/loss of the open size at price
func (p Position) PnL(price float64) float64 {
	return PnL(p.Direction, p.Size, p.Leverage, p.EntryPrice, price)
}

// PnLPercent is the return on margin at price
func (p Position) PnLPercent(price float64) float64 {
	if p.Size == 0 {
		return 0
	}
	return p.PnL(price) / p.Size * 100
}

// TrailingStopPrice returns the ratcheted trigger level, if a trailing stop is set
func (p Position) TrailingStopPrice() (float64, bool) {
	if p.TrailingDistance == nil {
		return 0, false
	}
	if p.Direction == Long {
		return p.TrailingAnchor - *p.TrailingDistance, true
	}
	return p.TrailingAnchor + *p.TrailingDistance, true
}

// PnL computes profit/loss for a leveraged position.
//
//	long:  size × leverage × (price − entry) / entry
//	short: size × leverage × (entry − price) / entry
func PnL(dir Direction, size, leverage, entry, price float64) float64 {
	if entry == 0 {
		return 0
	}
	delta := (price - entry) / entry
	if dir == Short {
		delta = -delta
	}
	return size * leverage * delta
}

// LimitOrder rests until the market crosses LimitPrice, then becomes a Position.
type LimitOrder struct {
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	Direction        Direction `json:"direction"`
	LimitPrice       float64   `json:"limitPrice"`
	Size             float64   `json:"size"`
	Leverage         float64   `json:"leverage"`
	StopLoss         *float64  `json:"stopLoss,omitempty"`
	TakeProfit       *float64  `json:"takeProfit,omitempty"`
	TrailingDistance *float64  `json:"trailingDistance,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`

	seq uint64
}

// Crosses reports whether price reaches the limit in the triggering direction:
// at or below the limit for a long, at or above for a short.
func (o LimitOrder) Crosses(price float64) bool {
	if o.Direction == Long {
		return price <= o.LimitPrice
	}
	return price >= o.LimitPrice
}

// Trade is a journal entry for every realization of PnL (full or partial close).
type Trade struct {
	PositionID string      `json:"positionId"`
	Symbol     string      `json:"symbol"`
	Direction  Direction   `json:"direction"`
	Size       float64     `json:"size"` // margin closed
	Leverage   float64     `json:"leverage"`
	EntryPrice float64     `json:"entryPrice"`
	ExitPrice  float64     `json:"exitPrice"`
	PnL        float64     `json:"pnl"`
	Reason     CloseReason `json:"reason"`
	At         time.Time   `json:"at"`
}

// OpenRequest carries the parameters of open and placeLimitOrder
type OpenRequest struct {
	Symbol           string
	Direction        Direction
	Size             float64
	Leverage         float64
	StopLoss         *float64
	TakeProfit       *float64
	TrailingDistance *float64
}

// StopUpdate edits SL/TP on an open position. A set StopLoss replaces any trailing stop.
type StopUpdate struct {
	StopLoss        *float64
	TakeProfit      *float64
	ClearStopLoss   bool
	ClearTakeProfit bool
}
