package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"logsentry/internal/model"
)

// Canonical field names set by Normalize.
const (
	FieldTimestamp = "timestamp"
	FieldHost      = "host"
	FieldUser      = "user"
	FieldSource    = "source"
	FieldResult    = "result"
)

var aliases = map[string][]string{
	FieldTimestamp: {"timestamp", "time", "ts", "@timestamp", "date"},
	FieldHost:      {"host", "hostname", "device", "server"},
	FieldUser:      {"user", "username", "uid", "login", "account", "card"},
	FieldSource:    {"source", "src", "src_ip", "ip", "rhost", "client", "remote_addr"},
	FieldResult:    {"result", "status", "outcome", "action"},
}

var canonicalOf = func() map[string]string {
	out := make(map[string]string)
	for canon, names := range aliases {
		for _, n := range names {
			out[n] = canon
		}
	}
	return out
}()

// Normalize fills the canonical fields from their first present alias,
// rewrites the timestamp as RFC3339 UTC and folds the result vocabulary to
// success or failure. now places timestamps that carry no year.
func Normalize(ev *model.Event, loc *time.Location, now time.Time) error {
	for _, canon := range []string{FieldTimestamp, FieldHost, FieldUser, FieldSource, FieldResult} {
		if v := ev.String(canon); v != "" {
			continue
		}
		for _, alias := range aliases[canon] {
			if v := strings.TrimSpace(ev.String(alias)); v != "" {
				ev.Set(canon, v)
				break
			}
		}
	}
	if raw := ev.String(FieldTimestamp); raw != "" {
		ts, err := ParseTimestamp(raw, loc, now)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		ev.Set(FieldTimestamp, ts.UTC().Format(time.RFC3339))
	}
	if _, ok := ev.Get(FieldResult); ok {
		ev.Set(FieldResult, string(ParseResult(ev.String(FieldResult), ev.String("error"))))
	}
	return nil
}

func ParseResult(result string, errorCode string) model.Result {
	n := strings.ToLower(strings.TrimSpace(result))
	switch n {
	case "ok", "success", "allow", "allowed", "granted", "pass", "accepted":
		return model.ResultSuccess
	case "fail", "failed", "failure", "denied", "deny", "reject", "rejected", "timeout", "error", "invalid":
		return model.ResultFailure
	}
	if strings.TrimSpace(errorCode) != "" {
		return model.ResultFailure
	}
	return model.ResultSuccess
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	time.Stamp,
	"Jan 2 15:04:05",
}

// ParseTimestamp accepts RFC3339 and common variants, syslog stamps and unix
// seconds or milliseconds. A syslog stamp takes its year from now; one that
// would land more than a day after now belongs to the previous year.
func ParseTimestamp(value string, loc *time.Location, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == time.Stamp || layout == "Jan 2 15:04:05" {
			if t, err := time.ParseInLocation(layout, strings.Join(strings.Fields(value), " "), loc); err == nil {
				return placeYear(t, now.In(loc)), nil
			}
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func placeYear(t, now time.Time) time.Time {
	placed := time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), now.Location())
	if placed.After(now.Add(24 * time.Hour)) {
		placed = placed.AddDate(-1, 0, 0)
	}
	return placed
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
