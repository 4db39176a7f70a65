package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/duelengine/pkg/app/duel"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNotFinal     = errors.New("match outcome is not final")
	ErrMissingMatch = errors.New("record has no match id")
)

// Store persists match history and participant profiles in Pebble.
// Values are JSON; every write is synced.
type Store struct {
	db *pebble.DB
	mu sync.Mutex // serialises read-modify-write
}

// NewStore opens a Pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	cache := pebble.NewCache(32 << 20) // 32MB cache
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:                    cache,
		MemTableSize:             16 << 20, // 16MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20, // 64MB
		MaxOpenFiles:             500,
		BytesPerSync:             512 << 10, // 512KB
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveMatch upserts a match record and its list index.
// A record re-saved with a different end time moves in the index.
func (s *Store) SaveMatch(r duel.Record) error {
	if r.MatchID == "" {
		return ErrMissingMatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encodeJSON(r)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()

	prev, err := s.LoadMatch(r.MatchID)
	switch {
	case err == nil:
		if !prev.EndedAt.Equal(r.EndedAt) {
			if err := b.Delete(matchIndexKey(prev.EndedAt, prev.MatchID), nil); err != nil {
				return fmt.Errorf("failed to drop stale index: %w", err)
			}
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if err := b.Set(matchKey(r.MatchID), data, nil); err != nil {
		return fmt.Errorf("failed to stage match: %w", err)
	}
	if err := b.Set(matchIndexKey(r.EndedAt, r.MatchID), []byte(r.MatchID), nil); err != nil {
		return fmt.Errorf("failed to stage match index: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save match %s: %w", r.MatchID, err)
	}
	return nil
}

// LoadMatch returns ErrNotFound for unknown ids
func (s *Store) LoadMatch(matchID string) (duel.Record, error) {
	var r duel.Record
	data, closer, err := s.db.Get(matchKey(matchID))
	if err == pebble.ErrNotFound {
		return r, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("failed to load match %s: %w", matchID, err)
	}
	defer closer.Close()

	if err := decodeJSON(data, &r); err != nil {
		return r, err
	}
	return r, nil
}

// ListMatches returns up to limit records, most recently ended first.
// limit <= 0 returns everything.
func (s *Store) ListMatches(limit int) ([]duel.Record, error) {
	prefix := []byte(prefixMatchIndex)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open match index: %w", err)
	}
	defer iter.Close()

	var ids []string
	for iter.Last(); iter.Valid() && (limit <= 0 || len(ids) < limit); iter.Prev() {
		ids = append(ids, string(iter.Value()))
	}

	records := make([]duel.Record, 0, len(ids))
	for _, id := range ids {
		r, err := s.LoadMatch(id)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// RecordOutcome folds a final outcome into the local participant's profile.
// Each match is counted once; repeated calls return nil without changes.
func (s *Store) RecordOutcome(r duel.Record) error {
	if r.MatchID == "" {
		return ErrMissingMatch
	}
	if !r.Verdict.Final {
		return fmt.Errorf("match %s: %w", r.MatchID, ErrNotFinal)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, closer, err := s.db.Get(outcomeKey(r.MatchID)); err == nil {
		closer.Close()
		return nil
	} else if err != pebble.ErrNotFound {
		return fmt.Errorf("failed to check outcome marker: %w", err)
	}

	p, err := s.LoadProfile(r.SelfID)
	if errors.Is(err, ErrNotFound) {
		p = Profile{ID: normalizeID(r.SelfID)}
	} else if err != nil {
		return err
	}
	p.apply(r)

	data, err := encodeJSON(p)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(profileKey(r.SelfID), data, nil); err != nil {
		return fmt.Errorf("failed to stage profile: %w", err)
	}
	if err := b.Set(outcomeKey(r.MatchID), []byte(r.Verdict.Outcome.String()), nil); err != nil {
		return fmt.Errorf("failed to stage outcome marker: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to record outcome of %s: %w", r.MatchID, err)
	}
	return nil
}

// LoadProfile returns ErrNotFound for participants with no settled match
func (s *Store) LoadProfile(participantID string) (Profile, error) {
	var p Profile
	data, closer, err := s.db.Get(profileKey(participantID))
	if err == pebble.ErrNotFound {
		return p, fmt.Errorf("profile %s: %w", participantID, ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("failed to load profile: %w", err)
	}
	defer closer.Close()

	if err := decodeJSON(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

var _ duel.Recorder = (*Store)(nil)
