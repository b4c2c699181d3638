// Package alerts keeps the most recent monitor alerts in memory for the
// status API.
package alerts

import (
	"sync"
	"time"

	"logsentry/internal/model"
)

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

func (s *Store) Add(alert model.AlertRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

// List returns up to limit of the newest alerts, oldest first.
func (s *Store) List(limit int) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.AlertRecord, limit)
	copy(out, s.buf[len(s.buf)-limit:])
	return out
}

func (s *Store) Since(ts time.Time) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertRecord, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

// Undelivered returns the alerts whose delivery failed.
func (s *Store) Undelivered() []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertRecord, 0)
	for _, a := range s.buf {
		if !a.Delivered {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
