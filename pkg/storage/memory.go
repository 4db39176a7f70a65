package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/duelengine/pkg/app/duel"
)

// MemoryStore keeps history in process memory. Used when no database path is configured.
type MemoryStore struct {
	mu       sync.Mutex
	matches  map[string]duel.Record
	profiles map[string]Profile
	counted  map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches:  make(map[string]duel.Record),
		profiles: make(map[string]Profile),
		counted:  make(map[string]struct{}),
	}
}

func (s *MemoryStore) SaveMatch(r duel.Record) error {
	if r.MatchID == "" {
		return ErrMissingMatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[r.MatchID] = r
	return nil
}

func (s *MemoryStore) LoadMatch(matchID string) (duel.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.matches[matchID]
	if !ok {
		return duel.Record{}, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) ListMatches(limit int) ([]duel.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]duel.Record, 0, len(s.matches))
	for _, r := range s.matches {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndedAt.Equal(out[j].EndedAt) {
			return out[i].EndedAt.After(out[j].EndedAt)
		}
		return out[i].MatchID > out[j].MatchID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecordOutcome(r duel.Record) error {
	if r.MatchID == "" {
		return ErrMissingMatch
	}
	if !r.Verdict.Final {
		return fmt.Errorf("match %s: %w", r.MatchID, ErrNotFinal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counted[r.MatchID]; ok {
		return nil
	}
	id := normalizeID(r.SelfID)
	p, ok := s.profiles[id]
	if !ok {
		p = Profile{ID: id}
	}
	p.apply(r)
	s.profiles[id] = p
	s.counted[r.MatchID] = struct{}{}
	return nil
}

func (s *MemoryStore) LoadProfile(participantID string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[normalizeID(participantID)]
	if !ok {
		return Profile{}, fmt.Errorf("profile %s: %w", participantID, ErrNotFound)
	}
	return p, nil
}

// IsNotFound reports whether err came from a lookup of an unknown key
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

var _ duel.Recorder = (*MemoryStore)(nil)
