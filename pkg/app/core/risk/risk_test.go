package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/duelengine/pkg/app/core/asset"
	"github.com/uhyunpark/duelengine/pkg/app/core/ledger"
)

func setup(t *testing.T, balance float64) (*ledger.Ledger, *Engine) {
	t.Helper()
	cat, err := asset.NewCatalog([]asset.Asset{
		{Symbol: "TEST", BasePrice: 100, MaxLeverage: 10},
		{Symbol: "ALT", BasePrice: 10, MaxLeverage: 10},
	})
	require.NoError(t, err)
	l := ledger.New(cat, balance, func() time.Time { return time.Unix(0, 0) })
	return l, NewEngine(l, nil)
}

func level(v float64) *float64 { return &v }

func TestLiquidationPrice(t *testing.T) {
	require.InDelta(t, 82.0, LiquidationPrice(ledger.Long, 100, 5), 1e-9)
	require.InDelta(t, 118.0, LiquidationPrice(ledger.Short, 100, 5), 1e-9)
	require.InDelta(t, 10.0, LiquidationPrice(ledger.Long, 100, 1), 1e-9)
}

func TestLiquidationPrice_InsideFullMarginMove(t *testing.T) {
	for _, dir := range []ledger.Direction{ledger.Long, ledger.Short} {
		for lev := 1.0; lev <= 50; lev += 0.5 {
			for _, entry := range []float64{0.15, 1, 100, 65000} {
				liq := LiquidationPrice(dir, entry, lev)
				require.Less(t, math.Abs(entry-liq)/entry, 1/lev)
			}
		}
	}
}

func TestOnTick_LosingLongStaysOpenAboveLiquidation(t *testing.T) {
	l, e := setup(t, 10000)
	pos, err := l.Open(ledger.OpenRequest{Symbol: "TEST", Direction: ledger.Long, Size: 10000, Leverage: 5}, 100)
	require.NoError(t, err)

	events := e.OnTick(map[string]float64{"TEST": 95})
	require.Empty(t, events)

	open, ok := l.Position(pos.ID)
	require.True(t, ok)
	require.True(t, open.IsOpen())
	require.InDelta(t, -2500.0, open.PnL(95), 1e-9)

	require.Empty(t, e.OnTick(map[string]float64{"TEST": 82.5}))

	events = e.OnTick(map[string]float64{"TEST": 81.9})
	require.Len(t, events, 1)
	require.Equal(t, EventClosed, events[0].Kind)
	require.Equal(t, ledger.ReasonLiquidation, events[0].Trade.Reason)
	require.Equal(t, 81.9, events[0].Trade.ExitPrice)
	require.Zero(t, l.OpenCount())
}

func TestOnTick_StopLossAtExactLevel(t *testing.T) {
	l, e := setup(t, 10000)
	pos, err := l.Open(ledger.OpenRequest{Symbol: "TEST", Direction: ledger.Long, Size: 1000, Leverage: 2, StopLoss: level(90)}, 100)
	require.NoError(t, err)

	events := e.OnTick(map[string]float64{"TEST": 90})
	require.Len(t, events, 1)

	closed, _ := l.Position(pos.ID)
	require.False(t, closed.IsOpen())
	require.Equal(t, ledger.ReasonStopLoss, closed.CloseReason)
	require.Equal(t, 90.0, closed.ExitPrice)
}

func TestOnTick_TakeProfitShort(t *testing.T) {
	l, e := setup(t, 10000)
	pos, err := l.Open(ledger.OpenRequest{Symbol: "TEST", Direction: ledger.Short, Size: 1000, Leverage: 3, TakeProfit: level(90)}, 100)
	require.NoError(t, err)

	require.Empty(t, e.OnTick(map[string]float64{"TEST": 91}))
	events := e.OnTick(map[string]float64{"TEST": 89})
	require.Len(t, events, 1)
	require.Equal(t, ledger.ReasonTakeProfit, events[0].Trade.Reason)

	closed, _ := l.Position(pos.ID)
	require.InDelta(t, 330.0, closed.RealizedPnL, 1e-9)
}

func TestOnTick_LiquidationEvaluatedBeforeStopLoss(t *testing.T) {
	l, e := setup(t, 10000)
	// 10x long: liquidation at 91, stop-loss at 95
	_, err := l.Open(ledger.OpenRequest{Symbol: "TEST", Direction: ledger.Long, Size: 1000, Leverage: 10, StopLoss: level(95)}, 100)
	require.NoError(t, err)

	events := e.OnTick(map[string]float64{"TEST": 90})
	require.Len(t, events, 1)
	require.Equal(t, ledger.ReasonLiquidation, events[0].Trade.Reason)
}

func TestOnTick_TrailingStopRatchets(t *testing.T) {
	l, e := setup(t, 10000)
	pos, err := l.Open(ledger.OpenRequest{Symbol: "TEST", Direction: ledger.Long, Size: 1000, Leverage: 2, TrailingDistance: level(5)}, 100)
	require.NoError(t, err)

	require.Empty(t, e.OnTick(map[string]float64{"TEST": 110}))
	ratcheted, _ := l.Position(pos.ID)
	stop, ok := ratcheted.TrailingStopPrice()
	require.True(t, ok)
	require.Equal(t, 105.0, stop)

	// a pullback does not loosen the stop
	require.Empty(t, e.OnTick(map[string]float64{"TEST": 106}))
	held, _ := l.Position(pos.ID)
	stop, _ = held.TrailingStopPrice()
	require.Equal(t, 105.0, stop)

	events := e.OnTick(map[string]float64{"TEST": 105})
	require.Len(t, events, 1)
	require.Equal(t, ledger.ReasonStopLoss, events[0].Trade.Reason)
	require.Greater(t, events[0].Trade.PnL, 0.0)
}

func TestOnTick_OnlyTickedSymbolsEvaluated(t *testing.T) {
	l, e := setup(t, 10000)
	alt, err := l.Open(ledger.OpenRequest{Symbol: "ALT", Direction: ledger.Long, Size: 1000, Leverage: 2, StopLoss: level(9)}, 10)
	require.NoError(t, err)

	require.Empty(t, e.OnTick(map[string]float64{"TEST": 1}))
	require.Empty(t, e.OnTick(map[string]float64{"ALT": math.NaN()}))
	require.Empty(t, e.OnTick(map[string]float64{"ALT": -3}))

	still, _ := l.Position(alt.ID)
	require.True(t, still.IsOpen())
}

func TestOnTick_LimitOrderFillsOnCross(t *testing.T) {
	l, e := setup(t, 10000)
	o, err := l.PlaceLimitOrder(ledger.OpenRequest{Symbol: "TEST", Direction: ledger.Long, Size: 1000, Leverage: 2}, 90)
	require.NoError(t, err)

	require.Empty(t, e.OnTick(map[string]float64{"TEST": 98}))
	require.Equal(t, 10000.0, l.Balance())

	events := e.OnTick(map[string]float64{"TEST": 89})
	require.Len(t, events, 1)
	require.Equal(t, EventFilled, events[0].Kind)
	require.Equal(t, o.ID, events[0].Order.ID)
	require.Equal(t, 90.0, events[0].Position.EntryPrice)
	require.Equal(t, 9000.0, l.Balance())
	require.Empty(t, l.Orders())
}

func TestOnTick_GappedFillLiquidatesSameTick(t *testing.T) {
	l, e := setup(t, 10000)
	_, err := l.PlaceLimitOrder(ledger.OpenRequest{Symbol: "TEST", Direction: ledger.Long, Size: 1000, Leverage: 10}, 90)
	require.NoError(t, err)
	require.InDelta(t, 81.9, LiquidationPrice(ledger.Long, 90, 10), 1e-9)

	events := e.OnTick(map[string]float64{"TEST": 80})
	require.Len(t, events, 2)
	require.Equal(t, EventFilled, events[0].Kind)
	require.Equal(t, EventClosed, events[1].Kind)
	require.Equal(t, ledger.ReasonLiquidation, events[1].Trade.Reason)
	require.Equal(t, -1000.0, events[1].Trade.PnL)

	require.Zero(t, l.OpenCount())
	require.Equal(t, 9000.0, l.Balance())
	require.Zero(t, l.UnrealizedPnL(func(string) (float64, bool) { return 80, true }))
}

func TestOnTick_UnaffordableFillDropsOrder(t *testing.T) {
	l, e := setup(t, 10000)
	_, err := l.PlaceLimitOrder(ledger.OpenRequest{Symbol: "TEST", Direction: ledger.Short, Size: 6000, Leverage: 2}, 105)
	require.NoError(t, err)
	_, err = l.PlaceLimitOrder(ledger.OpenRequest{Symbol: "TEST", Direction: ledger.Short, Size: 6000, Leverage: 2}, 106)
	require.NoError(t, err)

	events := e.OnTick(map[string]float64{"TEST": 107})
	require.Len(t, events, 2)
	require.Equal(t, EventFilled, events[0].Kind)
	require.Equal(t, EventDropped, events[1].Kind)
	require.ErrorIs(t, events[1].Err, ledger.ErrInsufficientBalance)

	require.Empty(t, l.Orders())
	require.Equal(t, 1, l.OpenCount())
	require.Equal(t, 4000.0, l.Balance())
}
