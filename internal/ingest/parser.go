// Package ingest turns raw log lines into events. It recognises JSON
// objects, CSV with an optional header row and free text with key=value
// pairs after a leading timestamp.
package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"
	"time"

	"logsentry/internal/model"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=("[^"]*"|[^\s]+)`)
	reSyslogTS  = regexp.MustCompile(`^\s*([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
)

type Parser struct {
	csv *CSVParser
	loc *time.Location
	now func() time.Time
}

// NewParser returns a parser reading local times in loc. now supplies the
// current time for year-less timestamps; nil means time.Now.
func NewParser(loc *time.Location, now func() time.Time) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Parser{csv: NewCSVParser(), loc: loc, now: now}
}

// ParseLine returns nil for blank lines and CSV header rows.
func (p *Parser) ParseLine(line string) (*model.Event, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if ev, err := ParseJSONBytes([]byte(trim)); err == nil {
			return p.finish(ev, line)
		}
	}
	if strings.Contains(trim, ",") && !reKV.MatchString(trim) {
		ev, err := p.csv.Parse(trim)
		if err == nil {
			if ev == nil {
				return nil, nil
			}
			return p.finish(ev, line)
		}
	}
	return p.finish(parsePlain(trim), line)
}

func (p *Parser) finish(ev *model.Event, raw string) (*model.Event, error) {
	if err := Normalize(ev, p.loc, p.now()); err != nil {
		return nil, err
	}
	ev.Set("raw", raw)
	return ev, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) *model.Event {
	ev := model.NewEvent()
	ts, rest := ExtractTimestamp(line)
	if ts != "" {
		ev.Set("timestamp", ts)
	}
	for _, match := range reKV.FindAllStringSubmatch(rest, -1) {
		ev.Set(strings.ToLower(match[1]), strings.Trim(match[2], `"`))
	}
	if _, ok := ev.Get("host"); !ok && rest != "" {
		if tokens := strings.Fields(rest); len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			ev.Set("host", tokens[0])
		}
	}
	return ev
}

// ExtractTimestamp splits a leading ISO or syslog timestamp from line.
func ExtractTimestamp(line string) (string, string) {
	for _, re := range []*regexp.Regexp{reTimestamp, reSyslogTS} {
		m := re.FindStringSubmatchIndex(line)
		if len(m) >= 4 {
			ts := strings.TrimSpace(line[m[2]:m[3]])
			rest := strings.TrimSpace(line[m[3]:])
			return ts, rest
		}
	}
	return "", line
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse maps a record onto the header seen earlier. Without a header the
// columns are timestamp, host, user, source, result.
func (p *CSVParser) Parse(line string) (*model.Event, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	names := p.header
	if names == nil {
		names = []string{"timestamp", "host", "user", "source", "result"}
	}
	ev := model.NewEvent()
	for i, name := range names {
		if i >= len(record) {
			break
		}
		ev.Set(name, strings.TrimSpace(record[i]))
	}
	return ev, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		if _, ok := canonicalOf[v]; ok {
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
