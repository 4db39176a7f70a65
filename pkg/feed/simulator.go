package feed

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/duelengine/pkg/app/core/asset"
	"github.com/uhyunpark/duelengine/pkg/util"
)

// SimulatorConfig controls the synthetic price walk
type SimulatorConfig struct {
	Interval      time.Duration // time between ticks
	VolatilityBps float64       // max move per tick, in basis points of the last price
	Seed          int64         // 0 seeds from the clock
}

// DefaultSimulatorConfig returns a lively but bounded walk: up to ±0.25% every 500ms
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Interval:      500 * time.Millisecond,
		VolatilityBps: 25,
	}
}

// Simulator random-walks every catalog asset from its base price and pushes the
// ticks, keyed by feed alias, into a Sink. For devnets without a price feed.
type Simulator struct {
	catalog *asset.Catalog
	sink    Sink
	cfg     SimulatorConfig
	clock   util.Clock
	logger  *zap.SugaredLogger

	rng    *rand.Rand
	prices map[string]float64 // symbol -> last price
	ticks  int
}

func NewSimulator(catalog *asset.Catalog, sink Sink, cfg SimulatorConfig, clock util.Clock, logger *zap.SugaredLogger) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSimulatorConfig().Interval
	}
	if cfg.VolatilityBps <= 0 {
		cfg.VolatilityBps = DefaultSimulatorConfig().VolatilityBps
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = clock.Now().UnixNano()
	}

	prices := make(map[string]float64, catalog.Len())
	for _, a := range catalog.List() {
		prices[a.Symbol] = a.BasePrice
	}
	return &Simulator{
		catalog: catalog,
		sink:    sink,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		rng:     rand.New(rand.NewSource(seed)),
		prices:  prices,
	}
}

// Step moves every asset once, pushes the tick and returns it
func (s *Simulator) Step() map[string]float64 {
	tick := make(map[string]float64, len(s.prices))
	for _, a := range s.catalog.List() {
		move := (s.rng.Float64()*2 - 1) * s.cfg.VolatilityBps / 10000
		p := s.prices[a.Symbol] * (1 + move)
		s.prices[a.Symbol] = p
		tick[a.Feed()] = p
	}
	s.ticks++
	s.sink.OnTick(tick)
	return tick
}

// Run ticks until ctx is cancelled
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Infow("simulator_started", "interval", s.cfg.Interval, "volatility_bps", s.cfg.VolatilityBps, "assets", s.catalog.Len())
	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("simulator_stopped", "ticks", s.ticks)
			return ctx.Err()
		case <-s.clock.After(s.cfg.Interval):
			s.Step()
		}
	}
}
