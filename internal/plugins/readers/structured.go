package readers

import (
	"time"

	"logsentry/internal/config"
	"logsentry/internal/ingest"
	"logsentry/internal/model"
	"logsentry/internal/reader"
)

func init() {
	reader.Register("reader_json", func() reader.Plugin {
		return &JSON{}
	})
	reader.Register("reader_keyvalue", func() reader.Plugin {
		return &KeyValue{}
	})
}

type structuredOptions struct {
	Timezone string `yaml:"timezone"`
	// Require lists fields an event must carry; lines missing one are
	// counted as producing no event.
	Require []string `yaml:"require"`
}

func (o structuredOptions) keep(ev *model.Event) bool {
	for _, f := range o.Require {
		if ev.String(f) == "" {
			return false
		}
	}
	return true
}

// JSON reads one JSON object per line. Anything else is a parse error.
type JSON struct {
	clocked
	opts structuredOptions
	loc  *time.Location
}

func (j *JSON) LoadConfig(cfg config.ModuleConfig) error {
	if err := cfg.DecodeOptions(&j.opts); err != nil {
		return err
	}
	loc, err := loadLocation(j.opts.Timezone)
	if err != nil {
		return err
	}
	j.loc = loc
	return nil
}

func (j *JSON) ParseLine(line string) (*model.Event, error) {
	if line == "" {
		return nil, nil
	}
	ev, err := ingest.ParseJSONBytes([]byte(line))
	if err != nil {
		return nil, err
	}
	if err := ingest.Normalize(ev, j.loc, j.now()); err != nil {
		return nil, err
	}
	if !j.opts.keep(ev) {
		return nil, nil
	}
	return ev, nil
}

// KeyValue reads CSV or key=value lines with the generic line parser.
type KeyValue struct {
	clocked
	opts   structuredOptions
	parser *ingest.Parser
}

func (k *KeyValue) LoadConfig(cfg config.ModuleConfig) error {
	if err := cfg.DecodeOptions(&k.opts); err != nil {
		return err
	}
	loc, err := loadLocation(k.opts.Timezone)
	if err != nil {
		return err
	}
	k.parser = ingest.NewParser(loc, k.now)
	return nil
}

func (k *KeyValue) ParseLine(line string) (*model.Event, error) {
	ev, err := k.parser.ParseLine(line)
	if err != nil || ev == nil {
		return nil, err
	}
	if !k.opts.keep(ev) {
		return nil, nil
	}
	return ev, nil
}
