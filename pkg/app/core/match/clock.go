package match

import (
	"errors"
	"fmt"
	"math"
)

// Phase is a stage of a running match. Phases only move forward.
type Phase int8

const (
	PhaseIntro Phase = iota
	PhaseOpeningBell
	PhaseMidGame
	PhaseFinalSprint
	PhaseLastStand
	PhaseEnded
)

const (
	// FinalSprintAt and LastStandAt are remaining-time thresholds in seconds
	FinalSprintAt = 60
	LastStandAt   = 30

	DefaultOpeningBellFraction = 0.10
)

var ErrInvalidDuration = errors.New("match duration must be positive")

func (p Phase) String() string {
	switch p {
	case PhaseIntro:
		return "intro"
	case PhaseOpeningBell:
		return "openingBell"
	case PhaseMidGame:
		return "midGame"
	case PhaseFinalSprint:
		return "finalSprint"
	case PhaseLastStand:
		return "lastStand"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for c := PhaseIntro; c <= PhaseEnded; c++ {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Notifies reports whether entering p is announced to consumers.
// intro, midGame and ended are silent.
func (p Phase) Notifies() bool {
	return p == PhaseOpeningBell || p == PhaseFinalSprint || p == PhaseLastStand
}

// Transition is emitted when Advance moves the clock into a new phase
type Transition struct {
	From      Phase `json:"from"`
	To        Phase `json:"to"`
	Remaining int   `json:"remaining"`
}

// Clock counts a match down one externally supplied second at a time.
// It has no notion of wall-clock time, so replays are deterministic.
type Clock struct {
	duration       int
	remaining      int
	openingBellEnd int // elapsed seconds at which openingBell ends
	phase          Phase
}

// NewClock creates a clock for durationSeconds. openingBellFraction is the share of the
// duration spent in openingBell; values outside (0, 1) fall back to the default.
func NewClock(durationSeconds int, openingBellFraction float64) (*Clock, error) {
	if durationSeconds <= 0 {
		return nil, fmt.Errorf("duration %d: %w", durationSeconds, ErrInvalidDuration)
	}
	if openingBellFraction <= 0 || openingBellFraction >= 1 || math.IsNaN(openingBellFraction) {
		openingBellFraction = DefaultOpeningBellFraction
	}
	end := int(math.Ceil(float64(durationSeconds) * openingBellFraction))
	if end < 1 {
		end = 1
	}
	return &Clock{
		duration:       durationSeconds,
		remaining:      durationSeconds,
		openingBellEnd: end,
		phase:          PhaseIntro,
	}, nil
}

func (c *Clock) Duration() int  { return c.duration }
func (c *Clock) Remaining() int { return c.remaining }
func (c *Clock) Elapsed() int   { return c.duration - c.remaining }
func (c *Clock) Phase() Phase   { return c.phase }
func (c *Clock) Ended() bool    { return c.phase == PhaseEnded }

// Advance moves the clock forward by elapsed seconds.
// It returns the phase transition, if any, and whether this call ended the match.
// Phases skipped by a large step are not reported individually. A clock that has
// ended ignores further calls.
func (c *Clock) Advance(elapsed int) (*Transition, bool) {
	if c.phase == PhaseEnded || elapsed <= 0 {
		return nil, false
	}

	c.remaining -= elapsed
	if c.remaining < 0 {
		c.remaining = 0
	}

	next := c.phaseAt(c.Elapsed(), c.remaining)
	if next <= c.phase {
		return nil, false
	}
	tr := &Transition{From: c.phase, To: next, Remaining: c.remaining}
	c.phase = next
	return tr, next == PhaseEnded
}

// Stop ends the clock immediately (forfeit). It reports false if it had already ended.
func (c *Clock) Stop() (*Transition, bool) {
	if c.phase == PhaseEnded {
		return nil, false
	}
	tr := &Transition{From: c.phase, To: PhaseEnded, Remaining: c.remaining}
	c.phase = PhaseEnded
	return tr, true
}

func (c *Clock) phaseAt(elapsed, remaining int) Phase {
	switch {
	case remaining <= 0:
		return PhaseEnded
	case elapsed == 0:
		return PhaseIntro
	case remaining <= LastStandAt:
		return PhaseLastStand
	case remaining <= FinalSprintAt:
		return PhaseFinalSprint
	case elapsed <= c.openingBellEnd:
		return PhaseOpeningBell
	default:
		return PhaseMidGame
	}
}
