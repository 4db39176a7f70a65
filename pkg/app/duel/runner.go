package duel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/duelengine/pkg/util"
)

// Runner drives an Engine with one Advance(1) per elapsed second of its clock.
// With a fake clock it replays deterministically.
type Runner struct {
	Engine *Engine
	Clock  util.Clock
	Logger *zap.SugaredLogger

	// Step is the wall-clock length of one match second (default 1s)
	Step time.Duration
}

func NewRunner(engine *Engine, clock util.Clock, logger *zap.SugaredLogger) *Runner {
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{Engine: engine, Clock: clock, Logger: logger, Step: time.Second}
}

// Run advances the engine until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	step := r.Step
	if step <= 0 {
		step = time.Second
	}
	r.Logger.Infow("runner_started", "step", step)
	for {
		select {
		case <-ctx.Done():
			r.Logger.Infow("runner_stopped")
			return ctx.Err()
		case <-r.Clock.After(step):
			r.Engine.Advance(1)
		}
	}
}
