package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/duelengine/pkg/app/core/reconcile"
)

const bpsDenominator = 10000

// Payout projects what the escrow pays the local participant for an outcome.
// Display only; the escrow itself lives outside this node.
type Payout struct {
	Bet    decimal.Decimal `json:"bet"`
	Pot    decimal.Decimal `json:"pot"`
	Fee    decimal.Decimal `json:"fee"`
	Amount decimal.Decimal `json:"amount"`
}

// ProjectPayout computes the payout for outcome:
//
//	pot    = 2 × bet
//	fee    = pot × feeBps / 10000
//	win    → pot − fee
//	tie    → bet refunded, no fee
//	other  → 0
func ProjectPayout(bet float64, feeBps int64, outcome reconcile.Outcome) Payout {
	b := decimal.NewFromFloat(bet)
	pot := b.Mul(decimal.NewFromInt(2))
	fee := pot.Mul(decimal.NewFromInt(feeBps)).Div(decimal.NewFromInt(bpsDenominator))

	p := Payout{Bet: b, Pot: pot, Fee: decimal.Zero, Amount: decimal.Zero}
	switch outcome {
	case reconcile.OutcomeWin:
		p.Fee = fee
		p.Amount = pot.Sub(fee)
	case reconcile.OutcomeTie:
		p.Amount = b
	}
	return p
}

// PnLBps converts an ROI percentage into basis points of the bet, rounded half away from zero
func PnLBps(roi float64) int64 {
	return decimal.NewFromFloat(roi).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
