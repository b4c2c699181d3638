// Package state implements the expiring containers monitors use to reason
// about recent history across scans. A Cache is rebuilt from the monitor's
// state file at construction and exported again when the monitor saves.
package state

import (
	"time"

	"logsentry/internal/clock"
)

// DefaultExpire applies when a container is first used without an expiry.
const DefaultExpire = time.Hour

type ListSnapshot struct {
	Expire int64   `json:"expire"`
	Data   []Entry `json:"data"`
}

type MapSnapshot struct {
	Expire int64            `json:"expire"`
	Data   map[string]Entry `json:"data"`
}

// Snapshot is the persisted form stored under "_dynamic_state".
type Snapshot struct {
	Lists map[string]ListSnapshot `json:"lists"`
	Dicts map[string]MapSnapshot  `json:"dicts"`
}

type Cache struct {
	clock clock.Clock
	lists map[string]*List
	maps  map[string]*Map
}

// NewCache reconstructs every container in snap and purges it against clk.
func NewCache(snap Snapshot, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	c := &Cache{
		clock: clk,
		lists: make(map[string]*List, len(snap.Lists)),
		maps:  make(map[string]*Map, len(snap.Dicts)),
	}
	for name, ls := range snap.Lists {
		data := make([]Entry, len(ls.Data))
		copy(data, ls.Data)
		c.lists[name] = newList(data, time.Duration(ls.Expire)*time.Second, clk)
	}
	for name, ms := range snap.Dicts {
		data := make(map[string]Entry, len(ms.Data))
		for k, e := range ms.Data {
			data[k] = e
		}
		c.maps[name] = newMap(data, time.Duration(ms.Expire)*time.Second, clk)
	}
	return c
}

// List returns the named list, creating it on first use. A different expire
// than the stored one replaces it and purges immediately. Zero means
// DefaultExpire.
func (c *Cache) List(name string, expire time.Duration) *List {
	expire = normalizeExpire(expire)
	l, ok := c.lists[name]
	if !ok {
		l = newList(nil, expire, c.clock)
		c.lists[name] = l
		return l
	}
	if l.expire != expire {
		l.expire = expire
		l.Purge()
	}
	return l
}

// Map returns the named map with the same creation and expiry rules as List.
func (c *Cache) Map(name string, expire time.Duration) *Map {
	expire = normalizeExpire(expire)
	m, ok := c.maps[name]
	if !ok {
		m = newMap(nil, expire, c.clock)
		c.maps[name] = m
		return m
	}
	if m.expire != expire {
		m.expire = expire
		m.Purge()
	}
	return m
}

// LookupList returns an existing list without creating one.
func (c *Cache) LookupList(name string) (*List, bool) {
	l, ok := c.lists[name]
	return l, ok
}

func (c *Cache) LookupMap(name string) (*Map, bool) {
	m, ok := c.maps[name]
	return m, ok
}

// Purge purges every container.
func (c *Cache) Purge() {
	for _, l := range c.lists {
		l.Purge()
	}
	for _, m := range c.maps {
		m.Purge()
	}
}

func (c *Cache) Export() Snapshot {
	snap := Snapshot{
		Lists: make(map[string]ListSnapshot, len(c.lists)),
		Dicts: make(map[string]MapSnapshot, len(c.maps)),
	}
	for name, l := range c.lists {
		snap.Lists[name] = l.export()
	}
	for name, m := range c.maps {
		snap.Dicts[name] = m.export()
	}
	return snap
}

func normalizeExpire(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultExpire
	}
	return d.Truncate(time.Second)
}
