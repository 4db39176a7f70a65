package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/duelengine/pkg/app/core/reconcile"
	"github.com/uhyunpark/duelengine/pkg/crypto"
)

// domainTag separates settlement digests from any other signed payload
const domainTag = "duelengine/settlement/v1"

var ErrBadSignature = errors.New("settlement signature not from authority")

// Signed is a settlement result attested by the settlement authority
type Signed struct {
	reconcile.Result
	Signature string `json:"signature"` // 0x-prefixed [R || S || V]
}

// Digest is Keccak256 over the canonical encoding of r:
//
//	domainTag || len(matchID) u32 || matchID || len(winnerID) u32 || winnerID
//	|| flags u8 (bit0 tie, bit1 forfeit) || selfROI f64 || opponentROI f64
//
// Integers and float bits are big-endian. ROIs are hashed as exact IEEE-754 bits.
func Digest(r reconcile.Result) common.Hash {
	buf := make([]byte, 0, len(domainTag)+len(r.MatchID)+len(r.WinnerID)+25)
	buf = append(buf, domainTag...)
	buf = appendString(buf, r.MatchID)
	buf = appendString(buf, normalizeID(r.WinnerID))

	var flags byte
	if r.IsTie {
		flags |= 1
	}
	if r.IsForfeit {
		flags |= 2
	}
	buf = append(buf, flags)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(r.SelfROI))
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(r.OpponentROI))
	return ethcrypto.Keccak256Hash(buf)
}

// Sign attests r with the authority key
func Sign(r reconcile.Result, s *crypto.Signer) (Signed, error) {
	sig, err := s.SignDigest(Digest(r))
	if err != nil {
		return Signed{}, err
	}
	return Signed{Result: r, Signature: hexutil.Encode(sig)}, nil
}

// Verifier checks results against the configured authority.
// The zero address disables verification (development mode).
type Verifier struct {
	authority common.Address
}

// NewVerifier parses authority; an empty string yields a permissive verifier
func NewVerifier(authority string) (*Verifier, error) {
	if authority == "" {
		return &Verifier{}, nil
	}
	addr, err := crypto.ParseAddress(authority)
	if err != nil {
		return nil, fmt.Errorf("settlement authority: %w", err)
	}
	return &Verifier{authority: addr}, nil
}

func (v *Verifier) Enabled() bool { return v.authority != (common.Address{}) }

func (v *Verifier) Authority() common.Address { return v.authority }

// Verify returns the result when its signature recovers to the authority
func (v *Verifier) Verify(s Signed) (reconcile.Result, error) {
	if !v.Enabled() {
		return s.Result, nil
	}
	sig, err := hexutil.Decode(s.Signature)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("decode signature: %w", ErrBadSignature)
	}
	signer, err := crypto.Recover(Digest(s.Result), sig)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("%v: %w", err, ErrBadSignature)
	}
	if signer != v.authority {
		return reconcile.Result{}, fmt.Errorf("signed by %s: %w", signer.Hex(), ErrBadSignature)
	}
	return s.Result, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// normalizeID maps any spelling of a hex address to its checksummed form
func normalizeID(id string) string {
	if common.IsHexAddress(id) {
		return common.HexToAddress(id).Hex()
	}
	return id
}
