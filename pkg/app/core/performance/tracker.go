package performance

import "github.com/uhyunpark/duelengine/pkg/app/core/ledger"

// Equity is the account value (free balance plus committed margin) plus unrealized PnL
func Equity(account, unrealized float64) float64 { return account + unrealized }

// ROI returns (equity − initial) / initial × 100, or 0 when initial is 0
func ROI(equity, initial float64) float64 {
	if initial == 0 {
		return 0
	}
	return (equity - initial) / initial * 100
}

// Stats summarises one participant's match
type Stats struct {
	BestTrade      float64 `json:"bestTrade"`
	BestTradeAsset string  `json:"bestTradeAsset,omitempty"`
	WorstTrade     float64 `json:"worstTrade"`
	WorstAsset     string  `json:"worstTradeAsset,omitempty"`
	HotStreak      int     `json:"hotStreak"`
	MaxStreak      int     `json:"maxStreak"`
	TotalTrades    int     `json:"totalTrades"`
	ClosedTrades   int     `json:"closedTrades"`
	WinningTrades  int     `json:"winningTrades"`
	WinRate        float64 `json:"winRate"`
	Volume         float64 `json:"volume"`
	LeadChanges    int     `json:"leadChanges"`
}

// Tracker accumulates Stats incrementally and detects lead changes.
// Not safe for concurrent use.
type Tracker struct {
	initial float64

	equity float64
	roi    float64

	leadSign int // sign of (self − opponent) after the last non-tied comparison
	stats    Stats
	hasBest  bool

	partial map[string]float64 // position id -> PnL realized by partial closes so far
}

func NewTracker(initialBalance float64) *Tracker {
	return &Tracker{initial: initialBalance, equity: initialBalance, partial: make(map[string]float64)}
}

func (t *Tracker) InitialBalance() float64 { return t.initial }
func (t *Tracker) Equity() float64         { return t.equity }
func (t *Tracker) ROI() float64            { return t.roi }

// Recompute refreshes equity and ROI, compares against opponentROI and
// reports whether the lead changed hands.
//
// A lead change is a strict sign flip of (self − opponent) relative to the last
// non-zero sign. Ties neither count nor reset the recorded sign, so
// ahead → tied → behind is one flip.
func (t *Tracker) Recompute(account, unrealized, opponentROI float64) bool {
	t.equity = Equity(account, unrealized)
	t.roi = ROI(t.equity, t.initial)

	sign := signOf(t.roi - opponentROI)
	if sign == 0 {
		return false
	}
	flipped := t.leadSign != 0 && sign != t.leadSign
	t.leadSign = sign
	if flipped {
		t.stats.LeadChanges++
	}
	return flipped
}

// Leading reports 1 when ahead, −1 when behind and 0 before any lead is established
func (t *Tracker) Leading() int { return t.leadSign }

// RecordOpen counts a new position (market or filled limit) towards trades and volume
func (t *Tracker) RecordOpen(pos ledger.Position) {
	t.stats.TotalTrades++
	t.stats.Volume += pos.Notional()
}

// RecordPartial folds a partial realization into best/worst trade. The position
// stays open, so closed-trade counts, streak and win rate wait for RecordClose.
func (t *Tracker) RecordPartial(tr ledger.Trade) {
	t.foldBestWorst(tr)
	t.partial[tr.PositionID] += tr.PnL
}

// RecordClose counts a position close. Win or loss is judged on everything the
// position realized, partial closes included; pnl > 0 is a win and anything
// else resets the streak.
func (t *Tracker) RecordClose(tr ledger.Trade) {
	t.foldBestWorst(tr)
	total := t.partial[tr.PositionID] + tr.PnL
	delete(t.partial, tr.PositionID)

	s := &t.stats
	s.ClosedTrades++
	if total > 0 {
		s.WinningTrades++
		s.HotStreak++
		if s.HotStreak > s.MaxStreak {
			s.MaxStreak = s.HotStreak
		}
	} else {
		s.HotStreak = 0
	}
	s.WinRate = float64(s.WinningTrades) / float64(s.ClosedTrades) * 100
}

func (t *Tracker) foldBestWorst(tr ledger.Trade) {
	s := &t.stats
	if !t.hasBest || tr.PnL > s.BestTrade {
		s.BestTrade, s.BestTradeAsset = tr.PnL, tr.Symbol
	}
	if !t.hasBest || tr.PnL < s.WorstTrade {
		s.WorstTrade, s.WorstAsset = tr.PnL, tr.Symbol
	}
	t.hasBest = true
}

func (t *Tracker) Stats() Stats { return t.stats }

func signOf(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
