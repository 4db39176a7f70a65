package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	self     = "0xAbC0000000000000000000000000000000000001"
	opponent = "0x0000000000000000000000000000000000000002"
)

func TestROI_FinalRefusesLocal(t *testing.T) {
	_, ok := LocalROI(12).Final()
	require.False(t, ok)

	v, ok := AuthoritativeROI(12).Final()
	require.True(t, ok)
	require.Equal(t, 12.0, v)

	b, err := json.Marshal(AuthoritativeROI(-3.5))
	require.NoError(t, err)
	require.JSONEq(t, `{"value":-3.5,"source":"authoritative"}`, string(b))

	var back ROI
	require.NoError(t, json.Unmarshal(b, &back))
	require.True(t, back.IsAuthoritative())
}

func TestController_PendingUntilResult(t *testing.T) {
	c := New("m1", self, false, 3)
	c.SetLocalSelfROI(10)
	c.SetLocalOpponentROI(-4)
	c.Begin(false)

	require.Equal(t, StatePending, c.State())
	for i := 0; i < 10; i++ {
		require.False(t, c.Tick())
	}
	require.Equal(t, StatePending, c.State(), "no result, no guess")
	require.Equal(t, OutcomeUndecided, c.Verdict().Outcome)
	require.False(t, c.Verdict().Final)
}

func TestController_CountdownThenReveal(t *testing.T) {
	c := New("m1", self, false, 3)
	c.SetLocalSelfROI(10)
	c.Begin(false)

	applied, err := c.Apply(Result{MatchID: "m1", SelfROI: 8, OpponentROI: 9})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, StateCountdown, c.State())
	require.Equal(t, 3, c.Countdown())

	// authoritative values replace the estimate at once
	require.True(t, c.SelfROI().IsAuthoritative())
	require.Equal(t, 8.0, c.SelfROI().Value())
	c.SetLocalSelfROI(50)
	require.Equal(t, 8.0, c.SelfROI().Value())

	require.False(t, c.Tick())
	require.False(t, c.Tick())
	require.True(t, c.Tick())
	require.Equal(t, StateRevealed, c.State())

	v := c.Verdict()
	require.True(t, v.Final)
	require.Equal(t, OutcomeLoss, v.Outcome)
}

func TestController_ResultBeforeMatchEnd(t *testing.T) {
	c := New("m1", self, false, 2)
	_, err := c.Apply(Result{MatchID: "m1", WinnerID: self})
	require.NoError(t, err)
	require.Equal(t, StateIdle, c.State())

	c.Begin(false)
	require.Equal(t, StateCountdown, c.State())
	require.Equal(t, 2, c.Countdown())
}

func TestController_ApplyIsIdempotent(t *testing.T) {
	c := New("m1", self, false, 3)
	c.Begin(false)
	r := Result{MatchID: "m1", WinnerID: opponent, SelfROI: 1, OpponentROI: 2}

	applied, err := c.Apply(r)
	require.NoError(t, err)
	require.True(t, applied)
	c.Tick()

	applied, err = c.Apply(r)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, 2, c.Countdown(), "replay must not restart the countdown")

	_, err = c.Apply(Result{MatchID: "m1", WinnerID: self, SelfROI: 1, OpponentROI: 2})
	require.ErrorIs(t, err, ErrConflictingResult)
	got, _ := c.Result()
	require.Equal(t, opponent, got.WinnerID)

	_, err = c.Apply(Result{MatchID: "other"})
	require.ErrorIs(t, err, ErrMatchMismatch)
}

func TestController_ResultWithoutMatchIDRejected(t *testing.T) {
	r := Result{WinnerID: self, SelfROI: 4, OpponentROI: 1}
	for _, id := range []string{"m1", "m2"} {
		c := New(id, self, false, 3)
		c.Begin(false)
		applied, err := c.Apply(r)
		require.ErrorIs(t, err, ErrMatchMismatch, id)
		require.False(t, applied)
		require.Equal(t, StatePending, c.State())
	}
}

func TestController_VerdictOrder(t *testing.T) {
	tests := []struct {
		name    string
		forfeit bool
		result  Result
		want    Outcome
	}{
		{
			name:   "declared winner beats ROI",
			result: Result{WinnerID: "0xabc0000000000000000000000000000000000001", SelfROI: -50, OpponentROI: 50},
			want:   OutcomeWin,
		},
		{
			name:   "declared opponent",
			result: Result{WinnerID: opponent, SelfROI: 50, OpponentROI: -50},
			want:   OutcomeLoss,
		},
		{
			name:   "tie flag",
			result: Result{IsTie: true, SelfROI: 3, OpponentROI: 1},
			want:   OutcomeTie,
		},
		{
			name:    "local forfeit loses",
			forfeit: true,
			result:  Result{SelfROI: 30, OpponentROI: 1},
			want:    OutcomeLoss,
		},
		{
			name:   "authoritative ROI fallback",
			result: Result{SelfROI: 3, OpponentROI: 1},
			want:   OutcomeWin,
		},
		{
			name:   "equal ROI without tie flag",
			result: Result{SelfROI: 2, OpponentROI: 2},
			want:   OutcomeUndecided,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("", self, false, 1)
			c.Begin(tt.forfeit)
			_, err := c.Apply(tt.result)
			require.NoError(t, err)
			require.Equal(t, tt.want, c.Verdict().Outcome)
			require.True(t, c.Verdict().Final)
		})
	}
}

func TestController_PracticeNeverFinal(t *testing.T) {
	c := New("p1", self, true, 3)
	c.SetLocalSelfROI(4)
	c.SetLocalOpponentROI(0)
	c.Begin(false)
	require.Equal(t, StateCountdown, c.State())

	for !c.Tick() {
	}
	v := c.Verdict()
	require.Equal(t, OutcomeWin, v.Outcome)
	require.False(t, v.Final)
}
