package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsentry/internal/clock"
	"logsentry/internal/model"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestListPurgeDropsExpiredEntries(t *testing.T) {
	clk := clock.NewManual(epoch)
	c := NewCache(Snapshot{}, clk)
	l := c.List("seen", 10*time.Second)

	l.Append("a")
	clk.Advance(9 * time.Second)
	l.Append("b")
	clk.Advance(3 * time.Second)
	l.Purge()

	assert.Equal(t, []any{"b"}, l.Items())
}

func TestListItemsHideEntriesExpiredSincePurge(t *testing.T) {
	clk := clock.NewManual(epoch)
	c := NewCache(Snapshot{}, clk)
	l := c.List("seen", 10*time.Second)
	l.Append("a")
	l.Append("b")
	clk.Advance(5 * time.Second)
	l.Append("c")
	clk.Advance(6 * time.Second)

	assert.Equal(t, []any{"c"}, l.Items())
	assert.Equal(t, 1, l.Len())
}

func TestListDropsBackdatedAppend(t *testing.T) {
	clk := clock.NewManual(epoch)
	c := NewCache(Snapshot{}, clk)
	l := c.List("seen", 10*time.Second)
	l.Append("fresh")
	l.AppendAt("stale", epoch.Add(-time.Hour))

	assert.Equal(t, []any{"fresh"}, l.Items())
	clk.Advance(5 * time.Second)
	assert.Equal(t, []any{"fresh"}, l.Items())
	assert.Len(t, c.Export().Lists["seen"].Data, 1)
}

func TestListHidesExpiredEntryBehindNewerOne(t *testing.T) {
	clk := clock.NewManual(epoch)
	c := NewCache(Snapshot{}, clk)
	l := c.List("seen", 10*time.Second)
	l.Append("newer")
	l.AppendAt("older", epoch.Add(-8*time.Second))
	assert.Equal(t, []any{"newer", "older"}, l.Items())

	clk.Advance(3 * time.Second)
	assert.Equal(t, []any{"newer"}, l.Items())
	assert.Equal(t, 1, l.Len())
	l.Append(map[string]any{"user": "a"})
	assert.Equal(t, []Count{{Value: "a", N: 1}}, l.Counts("user"))
	assert.Empty(t, l.Filter("user", "b"))
}

func TestRestoredDataIsPurged(t *testing.T) {
	clk := clock.NewManual(epoch)
	now := epoch.Unix()
	snap := Snapshot{
		Lists: map[string]ListSnapshot{
			"fails": {Expire: 60, Data: []Entry{
				{Created: now - 120, Value: "old"},
				{Created: now - 30, Value: "mid"},
				{Created: now - 61, Value: "edge"},
				{Created: now, Value: "new"},
			}},
		},
		Dicts: map[string]MapSnapshot{
			"cooldown": {Expire: 60, Data: map[string]Entry{
				"alice": {Created: now - 90, Value: true},
				"bob":   {Created: now - 10, Value: true},
			}},
		},
	}
	c := NewCache(snap, clk)

	l, ok := c.LookupList("fails")
	require.True(t, ok)
	assert.Equal(t, []any{"mid", "new"}, l.Items())
	for _, e := range c.Export().Lists["fails"].Data {
		assert.Less(t, now-e.Created, int64(60))
	}

	m, ok := c.LookupMap("cooldown")
	require.True(t, ok)
	_, found := m.Get("alice")
	assert.False(t, found)
	v, found := m.Get("bob")
	assert.True(t, found)
	assert.Equal(t, true, v)
}

func TestCountsOrderedByFrequency(t *testing.T) {
	c := NewCache(Snapshot{}, clock.NewManual(epoch))
	l := c.List("logins", time.Hour)
	l.Append(map[string]any{"user": "x"})
	l.Append(map[string]any{"user": "y"})
	l.Append(map[string]any{"user": "x"})

	assert.Equal(t, []Count{{Value: "x", N: 2}, {Value: "y", N: 1}}, l.Counts("user"))
}

func TestCountsTieKeepsFirstSeenOrder(t *testing.T) {
	c := NewCache(Snapshot{}, clock.NewManual(epoch))
	l := c.List("logins", time.Hour)
	for _, u := range []string{"b", "a", "c", "a", "b"} {
		l.Append(map[string]any{"user": u})
	}

	assert.Equal(t, []Count{{"b", 2}, {"a", 2}, {"c", 1}}, l.Counts("user"))
}

func TestUniqueAndFilter(t *testing.T) {
	c := NewCache(Snapshot{}, clock.NewManual(epoch))
	l := c.List("logins", time.Hour)
	ev := model.NewEvent()
	ev.Set("user", "carol")
	ev.Set("source", "10.0.0.9")
	l.Append(map[string]any{"user": "alice", "source": "10.0.0.1"})
	l.Append(map[string]string{"user": "bob", "source": "10.0.0.1"})
	l.Append(ev)
	l.Append(map[string]any{"user": "alice", "source": "10.0.0.2"})
	l.Append("no fields")

	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, l.Unique("user"))
	got := l.Filter("user", "alice")
	require.Len(t, got, 2)
	assert.Equal(t, "10.0.0.1", got[0].(map[string]any)["source"])
	assert.Equal(t, "10.0.0.2", got[1].(map[string]any)["source"])
}

func TestChangingExpireRepurges(t *testing.T) {
	clk := clock.NewManual(epoch)
	c := NewCache(Snapshot{}, clk)
	l := c.List("seen", time.Hour)
	l.Append("a")
	clk.Advance(10 * time.Minute)
	l.Append("b")

	l = c.List("seen", 5*time.Minute)
	assert.Equal(t, 5*time.Minute, l.Expire())
	assert.Equal(t, []any{"b"}, l.Items())

	m := c.Map("last", 0)
	assert.Equal(t, DefaultExpire, m.Expire())
}

func TestMapKeepsLatestValue(t *testing.T) {
	clk := clock.NewManual(epoch)
	c := NewCache(Snapshot{}, clk)
	m := c.Map("last_login", time.Hour)
	m.SetItem("alice", "10.0.0.1")
	clk.Advance(time.Minute)
	m.SetItem("alice", "10.0.0.2")
	m.SetItemAt("bob", "10.0.0.3", epoch.Add(-2*time.Hour))

	v, ok := m.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", v)
	_, ok = m.Get("bob")
	assert.False(t, ok)
	assert.Equal(t, []string{"alice"}, m.Keys())
}

func TestExportRoundTripPreservesLiveViews(t *testing.T) {
	clk := clock.NewManual(epoch)
	c := NewCache(Snapshot{}, clk)
	l := c.List("fails", time.Hour)
	l.Append(map[string]any{"user": "alice", "source": "10.0.0.1"})
	l.Append(map[string]any{"user": "bob", "source": "10.0.0.2"})
	m := c.Map("cooldown", 30*time.Minute)
	m.SetItem("alice", "alerted")

	raw, err := json.Marshal(c.Export())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	clk.Advance(time.Minute)
	restored := NewCache(snap, clk)
	rl, ok := restored.LookupList("fails")
	require.True(t, ok)
	assert.Equal(t, l.Items(), rl.Items())
	assert.Equal(t, time.Hour, rl.Expire())
	rm, ok := restored.LookupMap("cooldown")
	require.True(t, ok)
	v, ok := rm.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "alerted", v)
}
