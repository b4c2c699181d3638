// Package readers holds the built-in reader plugins. Each registers itself
// with the reader registry on import.
package readers

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"logsentry/internal/clock"
	"logsentry/internal/config"
	"logsentry/internal/ingest"
	"logsentry/internal/model"
	"logsentry/internal/reader"
)

func init() {
	reader.Register("reader_sshd", func() reader.Plugin {
		return &SSHD{}
	})
}

var (
	reSyslogLine = regexp.MustCompile(`^([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([\w./-]+)(?:\[(\d+)\])?:\s*(.*)$`)
	reFailed     = regexp.MustCompile(`^Failed (\S+) for (invalid user )?(\S*) from (\S+) port (\d+)`)
	reAccepted   = regexp.MustCompile(`^Accepted (\S+) for (\S+) from (\S+) port (\d+)`)
	reInvalid    = regexp.MustCompile(`^Invalid user (\S*) from (\S+)(?: port (\d+))?`)
)

// SSHD reads OpenSSH authentication lines from a syslog file. Lines from
// other programs, and sshd lines that are not login outcomes, produce no
// event.
type SSHD struct {
	clocked
	loc *time.Location
}

type sshdOptions struct {
	Timezone string `yaml:"timezone"`
}

func (s *SSHD) LoadConfig(cfg config.ModuleConfig) error {
	var opts sshdOptions
	if err := cfg.DecodeOptions(&opts); err != nil {
		return err
	}
	loc, err := loadLocation(opts.Timezone)
	if err != nil {
		return err
	}
	s.loc = loc
	return nil
}

func (s *SSHD) ParseLine(line string) (*model.Event, error) {
	if line == "" {
		return nil, nil
	}
	m := reSyslogLine.FindStringSubmatch(line)
	if m == nil {
		return nil, errors.New("not a syslog line")
	}
	if m[3] != "sshd" {
		return nil, nil
	}
	ts, err := ingest.ParseTimestamp(m[1], s.loc, s.now())
	if err != nil {
		return nil, err
	}

	ev := model.NewEvent()
	ev.Set(ingest.FieldTimestamp, ts.UTC().Format(time.RFC3339))
	ev.Set(ingest.FieldHost, m[2])
	ev.Set("program", m[3])
	if m[4] != "" {
		ev.Set("pid", m[4])
	}
	msg := m[5]

	switch {
	case reFailed.MatchString(msg):
		f := reFailed.FindStringSubmatch(msg)
		ev.Set("method", f[1])
		ev.Set(ingest.FieldUser, f[3])
		ev.Set(ingest.FieldSource, f[4])
		ev.Set("port", f[5])
		ev.Set("invalid_user", f[2] != "")
		ev.Set(ingest.FieldResult, string(model.ResultFailure))
	case reAccepted.MatchString(msg):
		a := reAccepted.FindStringSubmatch(msg)
		ev.Set("method", a[1])
		ev.Set(ingest.FieldUser, a[2])
		ev.Set(ingest.FieldSource, a[3])
		ev.Set("port", a[4])
		ev.Set(ingest.FieldResult, string(model.ResultSuccess))
	case reInvalid.MatchString(msg):
		i := reInvalid.FindStringSubmatch(msg)
		ev.Set("method", "none")
		ev.Set(ingest.FieldUser, i[1])
		ev.Set(ingest.FieldSource, i[2])
		if i[3] != "" {
			ev.Set("port", i[3])
		}
		ev.Set("invalid_user", true)
		ev.Set(ingest.FieldResult, string(model.ResultFailure))
	default:
		return nil, nil
	}
	ev.Set("message", msg)
	return ev, nil
}

// clocked lets a reader plugin take the scan clock.
type clocked struct {
	clock clock.Clock
}

func (c *clocked) UseClock(clk clock.Clock) {
	c.clock = clk
}

func (c *clocked) now() time.Time {
	if c.clock == nil {
		return time.Now()
	}
	return c.clock.Now()
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}
