package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrUnrecognizedMessage = errors.New("unrecognized price message")

// price accepts a JSON number or a numeric string
type price float64

func (p *price) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("price %q: %w", s, err)
		}
		*p = price(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = price(v)
	return nil
}

// ticker is the exchange mini-ticker shape: {"s":"BTCUSDT","c":"65000.1"}
type ticker struct {
	Symbol string `json:"s"`
	Close  price  `json:"c"`
}

// Decode turns one feed message into a symbol → price map. Accepted shapes:
//
//	{"prices": {"BTCUSDT": 65000.1, "ETHUSDT": "3200.5"}}
//	{"BTCUSDT": 65000.1}
//	{"s": "BTCUSDT", "c": "65000.1"}
//	[{"s": "BTCUSDT", "c": "65000.1"}, ...]
//
// Symbols are passed through untouched; the engine resolves feed aliases.
func Decode(msg []byte) (map[string]float64, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, ErrUnrecognizedMessage
	}

	if msg[0] == '[' {
		var ts []ticker
		if err := json.Unmarshal(msg, &ts); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrUnrecognizedMessage)
		}
		out := make(map[string]float64, len(ts))
		for _, t := range ts {
			if t.Symbol != "" {
				out[t.Symbol] = float64(t.Close)
			}
		}
		return out, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrUnrecognizedMessage)
	}

	if raw, ok := fields["prices"]; ok {
		var ps map[string]price
		if err := json.Unmarshal(raw, &ps); err != nil {
			return nil, fmt.Errorf("prices: %v: %w", err, ErrUnrecognizedMessage)
		}
		return flatten(ps), nil
	}

	if _, ok := fields["s"]; ok {
		var t ticker
		if err := json.Unmarshal(msg, &t); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrUnrecognizedMessage)
		}
		return map[string]float64{t.Symbol: float64(t.Close)}, nil
	}

	var ps map[string]price
	if err := json.Unmarshal(msg, &ps); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrUnrecognizedMessage)
	}
	return flatten(ps), nil
}

func flatten(ps map[string]price) map[string]float64 {
	out := make(map[string]float64, len(ps))
	for sym, p := range ps {
		out[sym] = float64(p)
	}
	return out
}
