package ingest

import (
	"testing"
	"time"
)

func TestParsePlainText(t *testing.T) {
	p := NewParser(nil, nil)
	line := "2026-02-23 12:34:56 web01 UID=04AABBCC RESULT=FAIL ERROR=TIMEOUT"
	ev, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if ev.String("host") != "web01" {
		t.Fatalf("host: %s", ev.String("host"))
	}
	if ev.String("user") != "04AABBCC" {
		t.Fatalf("user: %s", ev.String("user"))
	}
	if ev.String("result") != "failure" {
		t.Fatalf("result: %s", ev.String("result"))
	}
	if ev.String("timestamp") != "2026-02-23T12:34:56Z" {
		t.Fatalf("timestamp: %s", ev.String("timestamp"))
	}
	if ev.String("raw") != line {
		t.Fatalf("raw line not kept")
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser(nil, nil)
	if ev, _ := p.ParseLine("timestamp,host,user,src_ip,status"); ev != nil {
		t.Fatalf("expected header to return nil")
	}
	ev, err := p.ParseLine("2026-02-23T12:34:56Z,web01,alice,10.0.0.9,denied")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if ev.String("user") != "alice" || ev.String("source") != "10.0.0.9" || ev.String("result") != "failure" {
		t.Fatalf("csv parse mismatch: %v", ev.Map())
	}
}

func TestParseJSONKeepsKeyOrder(t *testing.T) {
	p := NewParser(nil, nil)
	line := `{"ts":1771850096,"Login":"bob","ip":"10.0.0.9","status":"granted","extra":{"k":1}}`
	ev, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	keys := ev.Keys()
	want := []string{"ts", "login", "ip", "status", "extra", "timestamp", "user", "source", "result", "raw"}
	if len(keys) != len(want) {
		t.Fatalf("keys: %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d: got %s want %s", i, keys[i], want[i])
		}
	}
	if ev.String("user") != "bob" || ev.String("result") != "success" {
		t.Fatalf("json parse mismatch: %v", ev.Map())
	}
	if ev.String("timestamp") != time.Unix(1771850096, 0).UTC().Format(time.RFC3339) {
		t.Fatalf("timestamp: %s", ev.String("timestamp"))
	}
}

func TestParseBadTimestamp(t *testing.T) {
	p := NewParser(nil, nil)
	if _, err := p.ParseLine(`{"timestamp":"yesterday","user":"bob"}`); err == nil {
		t.Fatalf("expected timestamp error")
	}
}

func TestParseBlank(t *testing.T) {
	p := NewParser(nil, nil)
	ev, err := p.ParseLine("   ")
	if ev != nil || err != nil {
		t.Fatalf("blank line: %v %v", ev, err)
	}
}

func TestParseTimestampSyslog(t *testing.T) {
	ts, err := ParseTimestamp("Feb  3 04:05:06", time.UTC, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if ts.Year() != 2026 || ts.Month() != time.February || ts.Day() != 3 || ts.Hour() != 4 {
		t.Fatalf("unexpected time %v", ts)
	}
}

func TestParseTimestampSyslogAcrossNewYear(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	ts, err := ParseTimestamp("Dec 31 23:59:58", time.UTC, now)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if want := time.Date(2025, 12, 31, 23, 59, 58, 0, time.UTC); !ts.Equal(want) {
		t.Fatalf("got %v, want %v", ts, want)
	}

	ts, err = ParseTimestamp("Jan  1 00:09:00", time.UTC, now)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if ts.Year() != 2026 {
		t.Fatalf("same-day stamp moved to %v", ts)
	}
}
