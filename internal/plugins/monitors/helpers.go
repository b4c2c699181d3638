// Package monitors holds the built-in monitor plugins. Each registers itself
// with the monitor registry on import.
package monitors

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"logsentry/internal/model"
	"logsentry/internal/state"
)

// cooldown suppresses repeat alerts for a key. Keys live in a TTL map, so
// the quiet period survives restarts.
type cooldown struct {
	keys   *state.Map
	period time.Duration
}

func newCooldown(cache *state.Cache, period time.Duration) *cooldown {
	c := &cooldown{period: period}
	if period > 0 {
		c.keys = cache.Map("cooldown", period)
	}
	return c
}

func (c *cooldown) Allow(key string) bool {
	if c.keys == nil {
		return true
	}
	if _, ok := c.keys.Get(key); ok {
		return false
	}
	c.keys.SetItem(key, true)
	return true
}

// dedupe remembers event fingerprints for a window so a line replayed from
// a leftover snapshot is not counted twice.
type dedupe struct {
	seen *state.Map
}

func newDedupe(cache *state.Cache, window time.Duration) *dedupe {
	if window <= 0 {
		return &dedupe{}
	}
	return &dedupe{seen: cache.Map("dedupe", window)}
}

func (d *dedupe) Seen(ev *model.Event, fields ...string) bool {
	if d.seen == nil {
		return false
	}
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, ev.Reader)
	for _, f := range fields {
		parts = append(parts, ev.String(f))
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	key := hex.EncodeToString(h[:])
	if _, ok := d.seen.Get(key); ok {
		return true
	}
	d.seen.SetItem(key, true)
	return false
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func eventJSON(ev *model.Event) string {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return ev.String("raw")
	}
	return string(data)
}
