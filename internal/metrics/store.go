// Package metrics tracks per-module scan outcomes in memory and exports
// scan counters to Prometheus.
package metrics

import (
	"sort"
	"sync"
	"time"

	"logsentry/internal/model"
)

// Store holds the last reported stats of every module and the latest scan
// summary.
type Store struct {
	mu       sync.RWMutex
	byModule map[string]model.ModuleStats
	lastScan *model.ScanSummary
	limit    int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byModule: make(map[string]model.ModuleStats),
		limit:    limit,
	}
}

func key(kind, name string) string {
	return kind + "/" + name
}

func (s *Store) Update(stats []model.ModuleStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, st := range stats {
		if st.Name == "" {
			continue
		}
		if st.Updated.IsZero() {
			st.Updated = now
		}
		s.byModule[key(st.Kind, st.Name)] = st
	}
	for len(s.byModule) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) SetScan(scan model.ScanSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScan = &scan
}

func (s *Store) LastScan() (model.ScanSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastScan == nil {
		return model.ScanSummary{}, false
	}
	return *s.lastScan, true
}

func (s *Store) Get(kind, name string) (model.ModuleStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byModule[key(kind, name)]
	return st, ok
}

// GetAll returns every module's stats sorted by kind then name.
func (s *Store) GetAll() []model.ModuleStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ModuleStats, 0, len(s.byModule))
	for _, st := range s.byModule {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Store) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, st := range s.byModule {
		if oldestKey == "" || st.Updated.Before(oldest) {
			oldestKey = k
			oldest = st.Updated
		}
	}
	if oldestKey != "" {
		delete(s.byModule, oldestKey)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byModule = make(map[string]model.ModuleStats)
	s.lastScan = nil
}
