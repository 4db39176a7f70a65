package storage

import (
	"fmt"
	"time"
)

// Key schema for Pebble storage
//
//   m:<matchID>                 → Record (JSON)
//   mi:<endedAt>:<matchID>      → matchID, newest-last index for listing
//   p:<participantID>           → Profile (JSON)
//   o:<matchID>                 → marker, outcome already folded into the profile

const (
	prefixMatch      = "m:"
	prefixMatchIndex = "mi:"
	prefixProfile    = "p:"
	prefixOutcome    = "o:"
)

// matchKey returns the key for a match record
// Format: "m:{matchID}"
func matchKey(matchID string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixMatch, matchID))
}

// matchIndexKey orders matches by end time.
// Timestamp is zero-padded (20 digits) for lexicographic sorting
func matchIndexKey(endedAt time.Time, matchID string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixMatchIndex, endedAt.UnixNano(), matchID))
}

func profileKey(participantID string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixProfile, normalizeID(participantID)))
}

func outcomeKey(matchID string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixOutcome, matchID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
