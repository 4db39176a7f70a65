package reconcile

import "encoding/json"

// Source tells where an ROI value came from
type Source int8

const (
	// SourceLocal is an optimistic estimate simulated on this node. Display only.
	SourceLocal Source = iota
	// SourceAuthoritative was computed by the settlement service and is final.
	SourceAuthoritative
)

func (s Source) String() string {
	if s == SourceAuthoritative {
		return "authoritative"
	}
	return "local"
}

// ROI is a tagged value: a local estimate or an authoritative result.
// Code that needs a final number must go through Final, which refuses local values.
type ROI struct {
	value  float64
	source Source
}

func LocalROI(v float64) ROI         { return ROI{value: v, source: SourceLocal} }
func AuthoritativeROI(v float64) ROI { return ROI{value: v, source: SourceAuthoritative} }

// Value returns the number for display, whatever its source
func (r ROI) Value() float64 { return r.value }

func (r ROI) Source() Source { return r.source }

func (r ROI) IsAuthoritative() bool { return r.source == SourceAuthoritative }

// Final returns the value only when it is authoritative
func (r ROI) Final() (float64, bool) {
	if r.source != SourceAuthoritative {
		return 0, false
	}
	return r.value, true
}

type roiJSON struct {
	Value  float64 `json:"value"`
	Source string  `json:"source"`
}

func (r ROI) MarshalJSON() ([]byte, error) {
	return json.Marshal(roiJSON{Value: r.value, Source: r.source.String()})
}

func (r *ROI) UnmarshalJSON(b []byte) error {
	var v roiJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	r.value = v.Value
	r.source = SourceLocal
	if v.Source == SourceAuthoritative.String() {
		r.source = SourceAuthoritative
	}
	return nil
}
