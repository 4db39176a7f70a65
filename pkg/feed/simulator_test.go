package feed

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/duelengine/pkg/app/core/asset"
)

type manualClock struct {
	ch chan time.Time
}

func (c manualClock) After(time.Duration) <-chan time.Time { return c.ch }
func (c manualClock) Now() time.Time                      { return time.Unix(0, 0) }

func testCatalog(t *testing.T) *asset.Catalog {
	t.Helper()
	c, err := asset.NewCatalog([]asset.Asset{
		{Symbol: "BTC", FeedSymbol: "BTCUSDT", BasePrice: 65000, MaxLeverage: 50},
		{Symbol: "SOL", BasePrice: 150, MaxLeverage: 20},
	})
	require.NoError(t, err)
	return c
}

func TestSimulator_StepIsBoundedAndKeyedByFeed(t *testing.T) {
	s := &sink{}
	sim := NewSimulator(testCatalog(t), s, SimulatorConfig{VolatilityBps: 50, Seed: 7}, manualClock{}, nil)

	prev := map[string]float64{"BTCUSDT": 65000, "SOL": 150}
	for i := 0; i < 200; i++ {
		tick := sim.Step()
		require.Len(t, tick, 2)
		for sym, p := range tick {
			require.Greater(t, p, 0.0)
			require.LessOrEqual(t, math.Abs(p/prev[sym]-1), 0.005+1e-12, sym)
			prev[sym] = p
		}
	}
	require.Equal(t, 200, s.count())
}

func TestSimulator_SeedIsDeterministic(t *testing.T) {
	a := NewSimulator(testCatalog(t), &sink{}, SimulatorConfig{Seed: 42}, manualClock{}, nil)
	b := NewSimulator(testCatalog(t), &sink{}, SimulatorConfig{Seed: 42}, manualClock{}, nil)
	for i := 0; i < 10; i++ {
		require.Equal(t, a.Step(), b.Step())
	}
}

func TestSimulator_RunTicksOnClock(t *testing.T) {
	s := &sink{}
	clock := manualClock{ch: make(chan time.Time)}
	sim := NewSimulator(testCatalog(t), s, SimulatorConfig{Seed: 1}, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	for i := 0; i < 3; i++ {
		clock.ch <- time.Time{}
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.GreaterOrEqual(t, s.count(), 2)
}
