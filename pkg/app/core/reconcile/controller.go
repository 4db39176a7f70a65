package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultRevealTicks is the length of the countdown between a final result and its reveal
const DefaultRevealTicks = 3

var (
	ErrConflictingResult = errors.New("conflicting settlement result")
	ErrMatchMismatch     = errors.New("settlement result for another match")
)

// State of the reconciliation machine. Idle until the match ends.
type State int8

const (
	StateIdle State = iota
	StatePending
	StateCountdown
	StateRevealed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCountdown:
		return "countdown"
	case StateRevealed:
		return "revealed"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for c := StateIdle; c <= StateRevealed; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown reconciliation state %q", b)
}

// Result is the authoritative outcome pushed by the settlement service.
// WinnerID is empty when there is no declared winner.
type Result struct {
	MatchID     string  `json:"matchId"`
	WinnerID    string  `json:"winnerId,omitempty"`
	IsTie       bool    `json:"isTie"`
	IsForfeit   bool    `json:"isForfeit"`
	SelfROI     float64 `json:"selfRoi"`
	OpponentROI float64 `json:"opponentRoi"`
}

type Outcome int8

const (
	OutcomeUndecided Outcome = iota
	OutcomeWin
	OutcomeLoss
	OutcomeTie
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeLoss:
		return "loss"
	case OutcomeTie:
		return "tie"
	default:
		return "undecided"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	for c := OutcomeUndecided; c <= OutcomeTie; c++ {
		if c.String() == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Verdict is the resolved outcome. Final is true only when it rests on an authoritative result.
type Verdict struct {
	Outcome  Outcome `json:"outcome"`
	WinnerID string  `json:"winnerId,omitempty"`
	IsTie    bool    `json:"isTie"`
	Forfeit  bool    `json:"isForfeit"`
	Final    bool    `json:"final"`
}

// Controller merges locally simulated results with the authoritative outcome of one match.
// Not safe for concurrent use.
type Controller struct {
	matchID  string
	selfID   string
	practice bool

	revealTicks int
	countdown   int
	state       State

	forfeit     bool
	selfROI     ROI
	opponentROI ROI
	result      *Result
}

// New creates a controller. selfID is compared case-insensitively against the declared winner.
func New(matchID, selfID string, practice bool, revealTicks int) *Controller {
	if revealTicks <= 0 {
		revealTicks = DefaultRevealTicks
	}
	return &Controller{
		matchID:     matchID,
		selfID:      selfID,
		practice:    practice,
		revealTicks: revealTicks,
	}
}

func (c *Controller) State() State     { return c.state }
func (c *Controller) SelfROI() ROI     { return c.selfROI }
func (c *Controller) OpponentROI() ROI { return c.opponentROI }
func (c *Controller) Countdown() int   { return c.countdown }
func (c *Controller) Practice() bool   { return c.practice }

func (c *Controller) Result() (Result, bool) {
	if c.result == nil {
		return Result{}, false
	}
	return *c.result, true
}

// SetLocalSelfROI and SetLocalOpponentROI update the display estimate.
// They never overwrite an authoritative value.
func (c *Controller) SetLocalSelfROI(v float64) {
	if !c.selfROI.IsAuthoritative() {
		c.selfROI = LocalROI(v)
	}
}

func (c *Controller) SetLocalOpponentROI(v float64) {
	if !c.opponentROI.IsAuthoritative() {
		c.opponentROI = LocalROI(v)
	}
}

// Begin is called once when the match ends. Practice matches, and matches whose
// result already arrived, go straight into the countdown.
func (c *Controller) Begin(forfeit bool) {
	if c.state != StateIdle {
		return
	}
	c.forfeit = forfeit
	c.state = StatePending
	if c.practice || c.result != nil {
		c.startCountdown()
	}
}

// Apply records the authoritative result. A result must name this match; one
// without a match id is rejected. Applying the same result again is a no-op
// and reports false; a different result is rejected and the first one kept.
// Authoritative ROIs replace the local estimates immediately, even during the countdown.
func (c *Controller) Apply(r Result) (bool, error) {
	if c.matchID != "" && r.MatchID != c.matchID {
		return false, fmt.Errorf("%s != %s: %w", r.MatchID, c.matchID, ErrMatchMismatch)
	}
	if c.result != nil {
		if sameResult(*c.result, r) {
			return false, nil
		}
		return false, fmt.Errorf("match %s: %w", c.matchID, ErrConflictingResult)
	}

	stored := r
	c.result = &stored
	c.selfROI = AuthoritativeROI(r.SelfROI)
	c.opponentROI = AuthoritativeROI(r.OpponentROI)
	if c.state == StatePending {
		c.startCountdown()
	}
	return true, nil
}

// Tick advances the reveal countdown by one step and reports whether this step revealed
func (c *Controller) Tick() bool {
	if c.state != StateCountdown {
		return false
	}
	c.countdown--
	if c.countdown > 0 {
		return false
	}
	c.countdown = 0
	c.state = StateRevealed
	return true
}

// Verdict resolves the outcome in this order:
//  1. a declared winner, compared with the local participant
//  2. the tie flag
//  3. a local forfeit, which loses
//  4. authoritative ROIs; equal values stay undecided
//
// Without an authoritative result a ranked match is undecided. A practice match
// compares the local estimates and is never final.
func (c *Controller) Verdict() Verdict {
	v := Verdict{Forfeit: c.forfeit}
	if c.result == nil {
		if c.practice && c.state != StateIdle {
			v.Outcome = compare(c.selfROI.Value(), c.opponentROI.Value())
			if c.forfeit {
				v.Outcome = OutcomeLoss
			}
		}
		return v
	}

	r := c.result
	v.Final = true
	v.WinnerID = r.WinnerID
	v.IsTie = r.IsTie
	v.Forfeit = c.forfeit || r.IsForfeit
	switch {
	case r.WinnerID != "":
		if strings.EqualFold(r.WinnerID, c.selfID) {
			v.Outcome = OutcomeWin
		} else {
			v.Outcome = OutcomeLoss
		}
	case r.IsTie:
		v.Outcome = OutcomeTie
	case c.forfeit:
		v.Outcome = OutcomeLoss
	default:
		self, _ := c.selfROI.Final()
		opp, _ := c.opponentROI.Final()
		v.Outcome = compare(self, opp)
	}
	return v
}

func (c *Controller) startCountdown() {
	c.state = StateCountdown
	c.countdown = c.revealTicks
}

func compare(self, opp float64) Outcome {
	switch {
	case self > opp:
		return OutcomeWin
	case self < opp:
		return OutcomeLoss
	default:
		return OutcomeUndecided
	}
}

func sameResult(a, b Result) bool {
	return strings.EqualFold(a.WinnerID, b.WinnerID) &&
		a.IsTie == b.IsTie &&
		a.IsForfeit == b.IsForfeit &&
		a.SelfROI == b.SelfROI &&
		a.OpponentROI == b.OpponentROI
}
