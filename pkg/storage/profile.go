package storage

import (
	"time"

	"github.com/uhyunpark/duelengine/pkg/app/core/reconcile"
	"github.com/uhyunpark/duelengine/pkg/app/duel"
	"github.com/uhyunpark/duelengine/pkg/settlement"
)

// Profile aggregates a participant's settled matches
type Profile struct {
	ID            string    `json:"id"`
	Tag           string    `json:"tag,omitempty"`
	GamesPlayed   int       `json:"gamesPlayed"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Ties          int       `json:"ties"`
	Forfeits      int       `json:"forfeits"`
	CurrentStreak int       `json:"currentStreak"`
	BestStreak    int       `json:"bestStreak"`
	TotalPnLBps   int64     `json:"totalPnlBps"`
	LastMatchID   string    `json:"lastMatchId,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// WinRate is wins over games played, in percent
func (p Profile) WinRate() float64 {
	if p.GamesPlayed == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.GamesPlayed) * 100
}

// apply folds one final match outcome into the profile.
// Ties and losses reset the streak; an undecided outcome only counts the game.
func (p *Profile) apply(r duel.Record) {
	if r.SelfTag != "" {
		p.Tag = r.SelfTag
	}
	p.GamesPlayed++
	if r.Forfeit {
		p.Forfeits++
	}
	switch r.Verdict.Outcome {
	case reconcile.OutcomeWin:
		p.Wins++
		p.CurrentStreak++
		if p.CurrentStreak > p.BestStreak {
			p.BestStreak = p.CurrentStreak
		}
	case reconcile.OutcomeLoss:
		p.Losses++
		p.CurrentStreak = 0
	case reconcile.OutcomeTie:
		p.Ties++
		p.CurrentStreak = 0
	}
	p.TotalPnLBps += settlement.PnLBps(r.ROI.Value())
	p.LastMatchID = r.MatchID
	p.UpdatedAt = r.EndedAt
}
