package performance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/duelengine/pkg/app/core/ledger"
)

func TestROI(t *testing.T) {
	require.Zero(t, ROI(500, 0))
	require.InDelta(t, 25.0, ROI(12500, 10000), 1e-9)
	require.InDelta(t, -100.0, ROI(0, 10000), 1e-9)
}

func TestRecompute_EquityIncludesUnrealized(t *testing.T) {
	tr := NewTracker(10000)
	tr.Recompute(9000, 1500, 0)
	require.Equal(t, 10500.0, tr.Equity())
	require.InDelta(t, 5.0, tr.ROI(), 1e-9)
}

func TestRecompute_LeadChanges(t *testing.T) {
	tr := NewTracker(10000)

	// establishing the first lead is not a change
	require.False(t, tr.Recompute(10100, 0, 0))
	require.Equal(t, 1, tr.Leading())

	// staying ahead across ticks never counts
	for i := 0; i < 5; i++ {
		require.False(t, tr.Recompute(10200, 0, 0.5))
	}
	require.Zero(t, tr.Stats().LeadChanges)

	// a tie does not count and does not reset
	require.False(t, tr.Recompute(10000, 0, 0))
	require.Equal(t, 1, tr.Leading())

	// a single flip counts exactly once
	require.True(t, tr.Recompute(9900, 0, 0))
	require.False(t, tr.Recompute(9800, 0, 0))
	require.Equal(t, 1, tr.Stats().LeadChanges)

	require.True(t, tr.Recompute(10000, 0, -3))
	require.Equal(t, 2, tr.Stats().LeadChanges)
}

func TestRecordClose_Stats(t *testing.T) {
	tr := NewTracker(10000)
	tr.RecordOpen(ledger.Position{Symbol: "BTC", Size: 1000, Leverage: 5})
	tr.RecordOpen(ledger.Position{Symbol: "ETH", Size: 500, Leverage: 2})
	tr.RecordOpen(ledger.Position{Symbol: "SOL", Size: 100, Leverage: 10})

	tr.RecordClose(ledger.Trade{Symbol: "BTC", PnL: 120})
	tr.RecordClose(ledger.Trade{Symbol: "ETH", PnL: 40})
	s := tr.Stats()
	require.Equal(t, 2, s.HotStreak)
	require.Equal(t, 100.0, s.WinRate)

	tr.RecordClose(ledger.Trade{Symbol: "SOL", PnL: -75})
	s = tr.Stats()
	require.Equal(t, 0, s.HotStreak)
	require.Equal(t, 2, s.MaxStreak)
	require.Equal(t, 3, s.TotalTrades)
	require.Equal(t, 3, s.ClosedTrades)
	require.InDelta(t, 200.0/3, s.WinRate, 1e-9)
	require.Equal(t, 7000.0, s.Volume)
	require.Equal(t, 120.0, s.BestTrade)
	require.Equal(t, "BTC", s.BestTradeAsset)
	require.Equal(t, -75.0, s.WorstTrade)
	require.Equal(t, "SOL", s.WorstAsset)
}

func TestRecordClose_BreakEvenResetsStreak(t *testing.T) {
	tr := NewTracker(100)
	tr.RecordClose(ledger.Trade{Symbol: "BTC", PnL: 5})
	tr.RecordClose(ledger.Trade{Symbol: "BTC", PnL: 0})
	require.Zero(t, tr.Stats().HotStreak)
	require.Equal(t, 50.0, tr.Stats().WinRate)
}

func TestRecordPartial_CountsOnlyOnPositionClose(t *testing.T) {
	tr := NewTracker(10000)
	tr.RecordOpen(ledger.Position{ID: "p1", Symbol: "BTC", Size: 1000, Leverage: 5})

	for i := 0; i < 3; i++ {
		tr.RecordPartial(ledger.Trade{PositionID: "p1", Symbol: "BTC", PnL: 30})
	}
	s := tr.Stats()
	require.Equal(t, 1, s.TotalTrades)
	require.Zero(t, s.ClosedTrades)
	require.Zero(t, s.WinningTrades)
	require.Zero(t, s.HotStreak)
	require.Zero(t, s.WinRate)
	require.Equal(t, 30.0, s.BestTrade)

	// the remainder loses, but the position as a whole made 90 - 50
	tr.RecordClose(ledger.Trade{PositionID: "p1", Symbol: "BTC", PnL: -50})
	s = tr.Stats()
	require.Equal(t, 1, s.ClosedTrades)
	require.Equal(t, 1, s.WinningTrades)
	require.Equal(t, 1, s.HotStreak)
	require.Equal(t, 100.0, s.WinRate)
	require.Equal(t, -50.0, s.WorstTrade)
}
