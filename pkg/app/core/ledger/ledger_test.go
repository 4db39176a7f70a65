package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/duelengine/pkg/app/core/asset"
)

func newTestLedger(t *testing.T, balance float64) *Ledger {
	t.Helper()
	cat, err := asset.NewCatalog([]asset.Asset{
		{Symbol: "TEST", FeedSymbol: "TESTUSDT", BasePrice: 100, MaxLeverage: 10},
		{Symbol: "ALT", BasePrice: 10, MaxLeverage: 5},
	})
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return New(cat, balance, func() time.Time { return fixed })
}

func level(v float64) *float64 { return &v }

func TestPnL_Formula(t *testing.T) {
	require.InDelta(t, -2500.0, PnL(Long, 10000, 5, 100, 95), 1e-9)
	require.InDelta(t, 2500.0, PnL(Short, 10000, 5, 100, 95), 1e-9)
	require.Zero(t, PnL(Long, 10000, 5, 100, 100))

	pos := Position{Direction: Long, Size: 1000, Leverage: 2, EntryPrice: 50}
	require.InDelta(t, 20.0, pos.PnLPercent(55), 1e-9)
}

func TestPnL_MonotonicInFavoredDirection(t *testing.T) {
	prev := PnL(Long, 100, 3, 100, 50)
	for p := 51.0; p <= 150; p++ {
		cur := PnL(Long, 100, 3, 100, p)
		require.Greater(t, cur, prev)
		prev = cur
	}
	prev = PnL(Short, 100, 3, 100, 150)
	for p := 149.0; p >= 50; p-- {
		cur := PnL(Short, 100, 3, 100, p)
		require.Greater(t, cur, prev)
		prev = cur
	}
}

func TestOpen_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     OpenRequest
		wantErr error
	}{
		{
			name:    "insufficient balance",
			req:     OpenRequest{Symbol: "TEST", Direction: Long, Size: 10001, Leverage: 2},
			wantErr: ErrInsufficientBalance,
		},
		{
			name:    "leverage below one",
			req:     OpenRequest{Symbol: "TEST", Direction: Long, Size: 100, Leverage: 0.5},
			wantErr: ErrInvalidLeverage,
		},
		{
			name:    "leverage above asset max",
			req:     OpenRequest{Symbol: "ALT", Direction: Long, Size: 100, Leverage: 6},
			wantErr: ErrInvalidLeverage,
		},
		{
			name:    "long stop-loss above entry",
			req:     OpenRequest{Symbol: "TEST", Direction: Long, Size: 100, Leverage: 2, StopLoss: level(101)},
			wantErr: ErrInvalidStopLevel,
		},
		{
			name:    "long take-profit below entry",
			req:     OpenRequest{Symbol: "TEST", Direction: Long, Size: 100, Leverage: 2, TakeProfit: level(99)},
			wantErr: ErrInvalidStopLevel,
		},
		{
			name:    "short stop-loss below entry",
			req:     OpenRequest{Symbol: "TEST", Direction: Short, Size: 100, Leverage: 2, StopLoss: level(99)},
			wantErr: ErrInvalidStopLevel,
		},
		{
			name:    "short take-profit above entry",
			req:     OpenRequest{Symbol: "TEST", Direction: Short, Size: 100, Leverage: 2, TakeProfit: level(101)},
			wantErr: ErrInvalidStopLevel,
		},
		{
			name: "stop-loss with trailing stop",
			req: OpenRequest{Symbol: "TEST", Direction: Long, Size: 100, Leverage: 2,
				StopLoss: level(90), TrailingDistance: level(5)},
			wantErr: ErrInvalidStopLevel,
		},
		{
			name:    "unknown asset",
			req:     OpenRequest{Symbol: "NOPE", Direction: Long, Size: 100, Leverage: 2},
			wantErr: ErrUnknownAsset,
		},
		{
			name:    "zero size",
			req:     OpenRequest{Symbol: "TEST", Direction: Long, Size: 0, Leverage: 2},
			wantErr: ErrInvalidSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, 10000)
			_, err := l.Open(tt.req, 100)
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, 10000.0, l.Balance(), "failed open must leave balance unchanged")
			require.Empty(t, l.Positions())
		})
	}
}

func TestOpen_DebitsAndIndexes(t *testing.T) {
	l := newTestLedger(t, 10000)

	pos, err := l.Open(OpenRequest{
		Symbol: "TEST", Direction: Long, Size: 2500, Leverage: 4,
		StopLoss: level(90), TakeProfit: level(120),
	}, 100)
	require.NoError(t, err)
	require.NotEmpty(t, pos.ID)
	require.Equal(t, 100.0, pos.EntryPrice)
	require.True(t, pos.IsOpen())
	require.Equal(t, 7500.0, l.Balance())
	require.Equal(t, 10000.0, pos.Notional())

	require.Len(t, l.OpenOn("TEST"), 1)
	require.Empty(t, l.OpenOn("ALT"))
	require.Equal(t, 1, l.OpenCount())
}

func TestClose_CreditsMarginPlusPnL(t *testing.T) {
	l := newTestLedger(t, 10000)
	pos, err := l.Open(OpenRequest{Symbol: "TEST", Direction: Short, Size: 1000, Leverage: 5}, 100)
	require.NoError(t, err)

	trade, err := l.Close(pos.ID, 90, ReasonManual)
	require.NoError(t, err)
	require.InDelta(t, 500.0, trade.PnL, 1e-9)
	require.Equal(t, ReasonManual, trade.Reason)
	require.InDelta(t, 10500.0, l.Balance(), 1e-9)

	closed, ok := l.Position(pos.ID)
	require.True(t, ok, "closed positions stay in history")
	require.False(t, closed.IsOpen())
	require.Equal(t, 90.0, closed.ExitPrice)
	require.Equal(t, ReasonManual, closed.CloseReason)
	require.Empty(t, l.OpenOn("TEST"))

	_, err = l.Close(pos.ID, 90, ReasonManual)
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestClose_LossFlooredAtMargin(t *testing.T) {
	l := newTestLedger(t, 1000)
	pos, err := l.Open(OpenRequest{Symbol: "TEST", Direction: Long, Size: 1000, Leverage: 10}, 100)
	require.NoError(t, err)

	trade, err := l.Close(pos.ID, 50, ReasonLiquidation)
	require.NoError(t, err)
	require.Equal(t, -1000.0, trade.PnL)
	require.Zero(t, l.Balance())
}

func TestClosePartial_MatchesSingleFullClose(t *testing.T) {
	fractions := []float64{0.1, 0.25, 0.5, 0.9}
	for _, f := range fractions {
		split := newTestLedger(t, 10000)
		pos, err := split.Open(OpenRequest{Symbol: "TEST", Direction: Long, Size: 4000, Leverage: 3}, 100)
		require.NoError(t, err)

		first, err := split.ClosePartial(pos.ID, f, 112)
		require.NoError(t, err)
		require.Equal(t, ReasonPartial, first.Reason)
		remainder, _ := split.Position(pos.ID)
		require.InDelta(t, 4000*(1-f), remainder.Size, 1e-9)

		second, err := split.Close(pos.ID, 112, ReasonManual)
		require.NoError(t, err)

		whole := newTestLedger(t, 10000)
		pos2, err := whole.Open(OpenRequest{Symbol: "TEST", Direction: Long, Size: 4000, Leverage: 3}, 100)
		require.NoError(t, err)
		full, err := whole.Close(pos2.ID, 112, ReasonManual)
		require.NoError(t, err)

		require.InDelta(t, full.PnL, first.PnL+second.PnL, 1e-6)
		require.InDelta(t, whole.Balance(), split.Balance(), 1e-6)
	}
}

func TestClosePartial_FullFractionUsesPartialReason(t *testing.T) {
	l := newTestLedger(t, 10000)
	pos, err := l.Open(OpenRequest{Symbol: "TEST", Direction: Long, Size: 100, Leverage: 1}, 100)
	require.NoError(t, err)

	_, err = l.ClosePartial(pos.ID, 0, 100)
	require.ErrorIs(t, err, ErrInvalidFraction)
	_, err = l.ClosePartial(pos.ID, 1.5, 100)
	require.ErrorIs(t, err, ErrInvalidFraction)

	_, err = l.ClosePartial(pos.ID, 1, 100)
	require.NoError(t, err)
	closed, _ := l.Position(pos.ID)
	require.False(t, closed.IsOpen())
	require.Equal(t, ReasonPartial, closed.CloseReason)
}

func TestUpdateStops(t *testing.T) {
	l := newTestLedger(t, 10000)
	pos, err := l.Open(OpenRequest{Symbol: "TEST", Direction: Long, Size: 100, Leverage: 2, TrailingDistance: level(3)}, 100)
	require.NoError(t, err)

	_, err = l.UpdateStops(pos.ID, StopUpdate{StopLoss: level(105)})
	require.ErrorIs(t, err, ErrInvalidStopLevel)
	unchanged, _ := l.Position(pos.ID)
	require.NotNil(t, unchanged.TrailingDistance, "rejected update leaves record untouched")

	updated, err := l.UpdateStops(pos.ID, StopUpdate{StopLoss: level(95), TakeProfit: level(110)})
	require.NoError(t, err)
	require.Equal(t, 95.0, *updated.StopLoss)
	require.Equal(t, 110.0, *updated.TakeProfit)
	require.Nil(t, updated.TrailingDistance, "stop-loss replaces trailing stop")

	cleared, err := l.UpdateStops(pos.ID, StopUpdate{ClearStopLoss: true, ClearTakeProfit: true})
	require.NoError(t, err)
	require.Nil(t, cleared.StopLoss)
	require.Nil(t, cleared.TakeProfit)

	_, err = l.UpdateStops("missing", StopUpdate{})
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestRatchet_OnlyImproves(t *testing.T) {
	l := newTestLedger(t, 10000)
	pos, err := l.Open(OpenRequest{Symbol: "TEST", Direction: Short, Size: 100, Leverage: 2, TrailingDistance: level(2)}, 100)
	require.NoError(t, err)

	_, moved := l.Ratchet(pos.ID, 101)
	require.False(t, moved)
	p, moved := l.Ratchet(pos.ID, 95)
	require.True(t, moved)
	stop, ok := p.TrailingStopPrice()
	require.True(t, ok)
	require.Equal(t, 97.0, stop)
	_, moved = l.Ratchet(pos.ID, 96)
	require.False(t, moved)
}

func TestLimitOrders(t *testing.T) {
	l := newTestLedger(t, 10000)

	_, err := l.PlaceLimitOrder(OpenRequest{Symbol: "TEST", Direction: Long, Size: 20000, Leverage: 2}, 90)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	o, err := l.PlaceLimitOrder(OpenRequest{Symbol: "TEST", Direction: Long, Size: 1000, Leverage: 2, StopLoss: level(85)}, 90)
	require.NoError(t, err)
	require.Equal(t, 10000.0, l.Balance(), "placement does not debit")
	require.True(t, o.Crosses(89))
	require.True(t, o.Crosses(90))
	require.False(t, o.Crosses(91))
	require.Len(t, l.OrdersOn("TEST"), 1)

	pos, err := l.FillLimitOrder(o.ID, 90)
	require.NoError(t, err)
	require.Equal(t, 90.0, pos.EntryPrice)
	require.Equal(t, 85.0, *pos.StopLoss)
	require.Equal(t, 9000.0, l.Balance())
	require.Empty(t, l.Orders())

	o2, err := l.PlaceLimitOrder(OpenRequest{Symbol: "TEST", Direction: Short, Size: 100, Leverage: 2}, 110)
	require.NoError(t, err)
	_, err = l.CancelLimitOrder(o2.ID)
	require.NoError(t, err)
	_, err = l.CancelLimitOrder(o2.ID)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestDirection_Text(t *testing.T) {
	var d Direction
	require.NoError(t, d.UnmarshalText([]byte("SELL")))
	require.Equal(t, Short, d)
	b, err := Long.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "long", string(b))
	require.Error(t, d.UnmarshalText([]byte("sideways")))
}
