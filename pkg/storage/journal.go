package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/duelengine/pkg/app/duel"
)

// Journal appends every engine event to a file as one JSON object per line.
// It is an audit trail only; nothing reads it back.
type Journal struct {
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	logger *zap.SugaredLogger
}

func NewJournal(path string, logger *zap.SugaredLogger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &Journal{f: f, enc: json.NewEncoder(f), logger: logger}, nil
}

// Observe writes events; snapshots are not journaled
func (j *Journal) Observe(_ duel.Snapshot, events []duel.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ev := range events {
		if err := j.enc.Encode(ev); err != nil {
			j.logger.Warnw("journal_write_failed", "type", ev.Type, "err", err)
			return
		}
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ duel.Observer = (*Journal)(nil)
