package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return b, nil
}

func decodeJSON(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return nil
}

// normalizeID folds wallet addresses so 0xAbC and 0xabc share a profile
func normalizeID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }
