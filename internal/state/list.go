package state

import (
	"fmt"
	"sort"
	"time"

	"logsentry/internal/clock"
	"logsentry/internal/model"
)

// Entry is a value with the unix second it was recorded at.
type Entry struct {
	Created int64 `json:"created"`
	Value   any   `json:"value"`
}

// Count is one row of List.Counts.
type Count struct {
	Value string
	N     int
}

// List is an insertion-ordered sequence of entries that forgets anything
// older than its expire duration. Reads go through a parallel slice of live
// values that never contains an expired entry.
type List struct {
	clock   clock.Clock
	expire  time.Duration
	entries []Entry
	live    []any
	head    int
	// unordered is set while some entry was created before one ahead of it,
	// so expiry is no longer confined to the front.
	unordered bool
}

func newList(entries []Entry, expire time.Duration, clk clock.Clock) *List {
	l := &List{clock: clk, expire: expire, entries: entries}
	l.Purge()
	return l
}

func (l *List) Expire() time.Duration {
	return l.expire
}

// Purge rebuilds the list keeping only entries with created >= now-expire.
func (l *List) Purge() {
	cutoff := l.cutoff()
	entries := make([]Entry, 0, len(l.entries)-l.head)
	live := make([]any, 0, len(l.entries)-l.head)
	unordered := false
	for _, e := range l.entries[l.head:] {
		if e.Created < cutoff {
			continue
		}
		if n := len(entries); n > 0 && e.Created < entries[n-1].Created {
			unordered = true
		}
		entries = append(entries, e)
		live = append(live, e.Value)
	}
	l.entries = entries
	l.live = live
	l.head = 0
	l.unordered = unordered
}

// evictHead drops expired entries from the front. While entries are in time
// order that is all that can have expired; otherwise it falls back to a full
// purge.
func (l *List) evictHead() {
	if l.unordered {
		l.Purge()
		return
	}
	cutoff := l.cutoff()
	for l.head < len(l.entries) {
		if l.entries[l.head].Created >= cutoff {
			break
		}
		l.head++
	}
	if l.head > 0 && l.head*2 >= len(l.entries) {
		l.entries = append([]Entry{}, l.entries[l.head:]...)
		l.live = append([]any{}, l.live[l.head:]...)
		l.head = 0
	}
}

func (l *List) cutoff() int64 {
	return l.clock.Now().Add(-l.expire).Unix()
}

// Append records value as created now.
func (l *List) Append(value any) {
	l.AppendAt(value, l.clock.Now())
}

// AppendAt records value with an explicit creation time. A value that is
// already expired is dropped.
func (l *List) AppendAt(value any, created time.Time) {
	ts := created.Unix()
	if ts < l.cutoff() {
		return
	}
	if n := len(l.entries); n > l.head && ts < l.entries[n-1].Created {
		l.unordered = true
	}
	l.entries = append(l.entries, Entry{Created: ts, Value: value})
	l.live = append(l.live, value)
}

// Items returns the live values in insertion order.
func (l *List) Items() []any {
	l.evictHead()
	out := make([]any, len(l.live)-l.head)
	copy(out, l.live[l.head:])
	return out
}

func (l *List) Len() int {
	l.evictHead()
	return len(l.live) - l.head
}

// Counts tallies the distinct values of key across live entries, highest
// count first. Equal counts keep first-seen order. Entries without the key
// are skipped.
func (l *List) Counts(key string) []Count {
	l.evictHead()
	index := make(map[string]int)
	var out []Count
	for _, v := range l.live[l.head:] {
		fv, ok := Field(v, key)
		if !ok {
			continue
		}
		s := fmt.Sprint(fv)
		if i, seen := index[s]; seen {
			out[i].N++
			continue
		}
		index[s] = len(out)
		out = append(out, Count{Value: s, N: 1})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].N > out[j].N })
	return out
}

// Unique returns the distinct values of key, in first-seen order.
func (l *List) Unique(key string) []string {
	l.evictHead()
	seen := make(map[string]struct{})
	var out []string
	for _, v := range l.live[l.head:] {
		fv, ok := Field(v, key)
		if !ok {
			continue
		}
		s := fmt.Sprint(fv)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Filter returns the live values whose key equals value, in insertion order.
// Values are compared by their formatted form so numbers decoded from JSON
// still match the ints they were stored as.
func (l *List) Filter(key string, value any) []any {
	l.evictHead()
	want := fmt.Sprint(value)
	var out []any
	for _, v := range l.live[l.head:] {
		fv, ok := Field(v, key)
		if !ok {
			continue
		}
		if fmt.Sprint(fv) == want {
			out = append(out, v)
		}
	}
	return out
}

func (l *List) export() ListSnapshot {
	data := make([]Entry, len(l.entries)-l.head)
	copy(data, l.entries[l.head:])
	return ListSnapshot{Expire: int64(l.expire / time.Second), Data: data}
}

// Field looks key up in a stored value. Values appended in this process may
// be events or maps; values restored from disk are map[string]any.
func Field(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		fv, ok := t[key]
		return fv, ok
	case map[string]string:
		fv, ok := t[key]
		return fv, ok
	case *model.Event:
		return t.Get(key)
	}
	return nil, false
}
