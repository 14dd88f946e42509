package alerts

import (
	"sync"
	"time"

	"georisk/internal/model"
)

// Store is a bounded in-memory alert history. Once full, the oldest record is
// dropped.
type Store struct {
	mu    sync.RWMutex
	buf   []model.AlertRecord
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(rec model.AlertRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
}

// List returns up to limit records, newest first. deviceID filters when set.
func (s *Store) List(deviceID string, limit int) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertRecord, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if deviceID != "" && s.buf[i].DeviceID != deviceID {
			continue
		}
		out = append(out, s.buf[i])
	}
	return out
}

// Since returns records that occurred at or after ts, newest first.
func (s *Store) Since(ts time.Time) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertRecord, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if !s.buf[i].OccurredAt.Before(ts) {
			out = append(out, s.buf[i])
		}
	}
	return out
}

// CountByLevel summarises the history per risk level.
func (s *Store) CountByLevel() map[model.RiskLevel]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.RiskLevel]int)
	for _, rec := range s.buf {
		out[rec.Zone.Level()]++
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
