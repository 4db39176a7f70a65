package duel

import (
	"errors"
	"time"

	"github.com/uhyunpark/duelengine/pkg/app/core/ledger"
	"github.com/uhyunpark/duelengine/pkg/app/core/match"
	"github.com/uhyunpark/duelengine/pkg/app/core/performance"
	"github.com/uhyunpark/duelengine/pkg/app/core/reconcile"
	"github.com/uhyunpark/duelengine/pkg/settlement"
)

var (
	ErrMatchNotActive = errors.New("match not active")
	ErrNoMatch        = errors.New("no match")
	ErrPracticeMatch  = errors.New("practice matches are not settled")
	ErrInvalidBet     = errors.New("invalid bet amount")
)

// Config holds engine-wide settings. Zero values fall back to defaults.
type Config struct {
	StartingBalance     float64
	DefaultDuration     int // seconds, used when a start request omits the duration
	OpeningBellFraction float64
	RevealTicks         int
	FeeBps              int64

	// SelfID identifies the local participant (wallet address); SelfTag is the display name
	SelfID  string
	SelfTag string

	Now func() time.Time
}

const (
	DefaultStartingBalance = 10000
	DefaultDuration        = 120
)

// StartParams are the arguments of StartMatch. MatchID is generated when empty;
// a zero duration falls back to Config.DefaultDuration.
type StartParams struct {
	DurationSeconds int     `json:"durationSeconds"`
	Bet             float64 `json:"betAmount"`
	MatchID         string  `json:"matchId,omitempty"`
	OpponentID      string  `json:"opponentId,omitempty"`
	OpponentTag     string  `json:"opponentTag,omitempty"`
}

// OpenParams are the arguments of OpenPosition and PlaceLimitOrder.
// An empty Symbol means the selected asset.
type OpenParams struct {
	Symbol           string           `json:"symbol,omitempty"`
	Direction        ledger.Direction `json:"direction"`
	Size             float64          `json:"size"`
	Leverage         float64          `json:"leverage"`
	StopLoss         *float64         `json:"stopLoss,omitempty"`
	TakeProfit       *float64         `json:"takeProfit,omitempty"`
	TrailingDistance *float64         `json:"trailingDistance,omitempty"`
}

// PositionView is an open position marked to the current price
type PositionView struct {
	ledger.Position
	MarkPrice        float64  `json:"markPrice"`
	PnL              float64  `json:"pnl"`
	PnLPercent       float64  `json:"pnlPercent"`
	LiquidationPrice float64  `json:"liquidationPrice"`
	TrailingStop     *float64 `json:"trailingStop,omitempty"`
}

// Snapshot is the read model published after every tick and command
type Snapshot struct {
	Seq uint64 `json:"seq"`

	MatchID  string      `json:"matchId,omitempty"`
	Active   bool        `json:"active"`
	Practice bool        `json:"practice"`
	Phase    match.Phase `json:"phase"`
	Duration int         `json:"duration"`
	Remain   int         `json:"remaining"`

	SelectedAsset string             `json:"selectedAsset"`
	Prices        map[string]float64 `json:"prices"`

	SelfID          string        `json:"selfId,omitempty"`
	StartingBalance float64       `json:"startingBalance"`
	Balance         float64       `json:"balance"`
	Equity          float64       `json:"equity"`
	ROI             reconcile.ROI `json:"roi"`
	Leading         int           `json:"leading"`

	OpponentID  string        `json:"opponentId,omitempty"`
	OpponentTag string        `json:"opponentTag,omitempty"`
	OpponentROI reconcile.ROI `json:"opponentRoi"`

	Positions []PositionView      `json:"positions"`
	History   []ledger.Position   `json:"history"`
	Orders    []ledger.LimitOrder `json:"orders"`
	Stats     performance.Stats   `json:"stats"`

	Bet            float64            `json:"bet"`
	Reconciliation reconcile.State    `json:"reconciliation"`
	Countdown      int                `json:"countdown"`
	Forfeit        bool               `json:"isForfeit"`
	Verdict        *reconcile.Verdict `json:"verdict,omitempty"` // set once revealed
	Payout         *settlement.Payout `json:"payout,omitempty"`  // set once revealed with a final verdict
}

type EventType string

const (
	EventMatchStarted      EventType = "match_started"
	EventPhase             EventType = "phase"
	EventPositionOpened    EventType = "position_opened"
	EventPositionClosed    EventType = "position_closed"
	EventOrderPlaced       EventType = "order_placed"
	EventOrderCancelled    EventType = "order_cancelled"
	EventOrderFilled       EventType = "order_filled"
	EventOrderDropped      EventType = "order_dropped"
	EventLeadChange        EventType = "lead_change"
	EventMatchEnded        EventType = "match_ended"
	EventSettlementApplied EventType = "settlement_applied"
	EventRevealed          EventType = "revealed"
)

// Event is a notable change. Data holds the record the event is about.
type Event struct {
	Type    EventType `json:"type"`
	MatchID string    `json:"matchId"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
}

// Observer receives every published snapshot with the events that produced it.
// Observers run on the engine's sequence and must not block or call back into the engine.
type Observer interface {
	Observe(s Snapshot, events []Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(s Snapshot, events []Event)

func (f ObserverFunc) Observe(s Snapshot, events []Event) { f(s, events) }

// Record is the persisted form of a finished match
type Record struct {
	MatchID     string `json:"matchId"`
	SelfID      string `json:"selfId"`
	SelfTag     string `json:"selfTag,omitempty"`
	OpponentID  string `json:"opponentId,omitempty"`
	OpponentTag string `json:"opponentTag,omitempty"`
	Practice    bool   `json:"practice"`
	Forfeit     bool   `json:"isForfeit"`

	Bet             float64   `json:"bet"`
	DurationSeconds int       `json:"durationSeconds"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`

	StartingBalance float64       `json:"startingBalance"`
	FinalBalance    float64       `json:"finalBalance"`
	ROI             reconcile.ROI `json:"roi"`
	OpponentROI     reconcile.ROI `json:"opponentRoi"`

	Positions []ledger.Position `json:"positions"`
	Trades    []ledger.Trade    `json:"trades"`
	Stats     performance.Stats `json:"stats"`

	Reconciliation reconcile.State   `json:"reconciliation"`
	Result         *reconcile.Result `json:"result,omitempty"`
	Verdict        reconcile.Verdict `json:"verdict"`
}

// Recorder persists match history. SaveMatch runs at match end and again whenever
// reconciliation changes the record; RecordOutcome runs once per match when a final
// verdict is revealed.
type Recorder interface {
	SaveMatch(r Record) error
	RecordOutcome(r Record) error
}
