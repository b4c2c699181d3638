package state

import (
	"sort"
	"time"

	"logsentry/internal/clock"
)

// Map keeps the latest value per key and forgets keys whose last write is
// older than its expire duration.
type Map struct {
	clock  clock.Clock
	expire time.Duration
	data   map[string]Entry
	live   map[string]any
}

func newMap(data map[string]Entry, expire time.Duration, clk clock.Clock) *Map {
	if data == nil {
		data = make(map[string]Entry)
	}
	m := &Map{clock: clk, expire: expire, data: data}
	m.Purge()
	return m
}

func (m *Map) Expire() time.Duration {
	return m.expire
}

func (m *Map) Purge() {
	cutoff := m.clock.Now().Add(-m.expire).Unix()
	data := make(map[string]Entry, len(m.data))
	live := make(map[string]any, len(m.data))
	for k, e := range m.data {
		if e.Created < cutoff {
			continue
		}
		data[k] = e
		live[k] = e.Value
	}
	m.data = data
	m.live = live
}

func (m *Map) SetItem(key string, value any) {
	m.SetItemAt(key, value, m.clock.Now())
}

func (m *Map) SetItemAt(key string, value any, created time.Time) {
	m.data[key] = Entry{Created: created.Unix(), Value: value}
	m.live[key] = value
}

// Get returns the live value for key. A value whose entry expired since the
// last purge is reported as absent.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.live[key]
	if !ok {
		return nil, false
	}
	if m.data[key].Created < m.clock.Now().Add(-m.expire).Unix() {
		return nil, false
	}
	return v, true
}

func (m *Map) Delete(key string) {
	delete(m.data, key)
	delete(m.live, key)
}

// Keys returns the live keys, sorted.
func (m *Map) Keys() []string {
	cutoff := m.clock.Now().Add(-m.expire).Unix()
	out := make([]string, 0, len(m.live))
	for k := range m.live {
		if m.data[k].Created < cutoff {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Map) Len() int {
	return len(m.Keys())
}

func (m *Map) export() MapSnapshot {
	data := make(map[string]Entry, len(m.data))
	for k, e := range m.data {
		data[k] = e
	}
	return MapSnapshot{Expire: int64(m.expire / time.Second), Data: data}
}
