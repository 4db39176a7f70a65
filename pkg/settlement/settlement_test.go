package settlement

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/duelengine/pkg/app/core/reconcile"
	"github.com/uhyunpark/duelengine/pkg/crypto"
)

func TestDigest_CoversEveryField(t *testing.T) {
	base := reconcile.Result{MatchID: "m1", WinnerID: "0x00000000000000000000000000000000000000aa", SelfROI: 1.5, OpponentROI: -2}
	d := Digest(base)

	variants := []reconcile.Result{
		{MatchID: "m2", WinnerID: base.WinnerID, SelfROI: 1.5, OpponentROI: -2},
		{MatchID: "m1", SelfROI: 1.5, OpponentROI: -2},
		{MatchID: "m1", WinnerID: base.WinnerID, IsTie: true, SelfROI: 1.5, OpponentROI: -2},
		{MatchID: "m1", WinnerID: base.WinnerID, IsForfeit: true, SelfROI: 1.5, OpponentROI: -2},
		{MatchID: "m1", WinnerID: base.WinnerID, SelfROI: 1.50001, OpponentROI: -2},
		{MatchID: "m1", WinnerID: base.WinnerID, SelfROI: 1.5, OpponentROI: 2},
	}
	for _, v := range variants {
		require.NotEqual(t, d, Digest(v))
	}

	// address spelling does not matter
	upper := base
	upper.WinnerID = "0x00000000000000000000000000000000000000AA"
	require.Equal(t, d, Digest(upper))
}

func TestDigest_LongIDsStayUnambiguous(t *testing.T) {
	// both encode to the same bytes if lengths wrap at 64KiB
	body := strings.Repeat("b", 65534)
	a := reconcile.Result{MatchID: "m", WinnerID: body + "\x00\x00"}
	b := reconcile.Result{MatchID: "m\x00\x00" + body}
	require.Len(t, a.WinnerID, 65536)
	require.Len(t, b.MatchID, 65537)
	require.NotEqual(t, Digest(a), Digest(b))
}

func TestSignAndVerify(t *testing.T) {
	authority, err := crypto.GenerateKey()
	require.NoError(t, err)
	impostor, err := crypto.GenerateKey()
	require.NoError(t, err)

	v, err := NewVerifier(authority.Address().Hex())
	require.NoError(t, err)
	require.True(t, v.Enabled())

	r := reconcile.Result{MatchID: "m1", IsTie: true, SelfROI: 0.25, OpponentROI: 0.25}
	signed, err := Sign(r, authority)
	require.NoError(t, err)

	got, err := v.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, r, got)

	forged, err := Sign(r, impostor)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	require.ErrorIs(t, err, ErrBadSignature)

	tampered := signed
	tampered.SelfROI = 99
	_, err = v.Verify(tampered)
	require.ErrorIs(t, err, ErrBadSignature)

	garbage := signed
	garbage.Signature = "0xzz"
	_, err = v.Verify(garbage)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifier_DisabledWithoutAuthority(t *testing.T) {
	v, err := NewVerifier("")
	require.NoError(t, err)
	require.False(t, v.Enabled())

	r := reconcile.Result{MatchID: "m1"}
	got, err := v.Verify(Signed{Result: r})
	require.NoError(t, err)
	require.Equal(t, r, got)

	_, err = NewVerifier("0xnope")
	require.Error(t, err)
}

func TestProjectPayout(t *testing.T) {
	win := ProjectPayout(100, 500, reconcile.OutcomeWin)
	require.True(t, win.Pot.Equal(decimal.NewFromInt(200)))
	require.True(t, win.Fee.Equal(decimal.NewFromInt(10)))
	require.True(t, win.Amount.Equal(decimal.NewFromInt(190)))

	tie := ProjectPayout(100, 500, reconcile.OutcomeTie)
	require.True(t, tie.Amount.Equal(decimal.NewFromInt(100)))
	require.True(t, tie.Fee.IsZero())

	loss := ProjectPayout(100, 500, reconcile.OutcomeLoss)
	require.True(t, loss.Amount.IsZero())
}

func TestPnLBps(t *testing.T) {
	require.Equal(t, int64(1250), PnLBps(12.5))
	require.Equal(t, int64(-333), PnLBps(-3.333))
	require.Equal(t, int64(0), PnLBps(0))
}
