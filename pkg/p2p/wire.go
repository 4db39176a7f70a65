package p2p

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(ROIWire{})
}

// ROIWire is one participant's ROI for a match as carried on the gossip topic
type ROIWire struct {
	MatchID     string
	Participant string
	ROI         float64
	Final       bool
	Seq         uint64 // engine snapshot sequence; receivers drop older values
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
