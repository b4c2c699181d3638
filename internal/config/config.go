package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel            string                  `json:"log_level" yaml:"log_level"`
	StateRoot           string                  `json:"state_root" yaml:"state_root"`
	TempRoot            string                  `json:"temp_root" yaml:"temp_root"`
	StateFile           string                  `json:"state_file" yaml:"state_file"`
	DailyRunHour        int                     `json:"daily_run_hour" yaml:"daily_run_hour"`
	Interval            time.Duration           `json:"interval" yaml:"interval"`
	Tick                time.Duration           `json:"tick" yaml:"tick"`
	ShutdownGrace       time.Duration           `json:"shutdown_grace" yaml:"shutdown_grace"`
	LogServiceReloadCmd string                  `json:"log_service_reload_cmd" yaml:"log_service_reload_cmd"`
	CopyInsteadOfMove   bool                    `json:"copy_instead_of_move" yaml:"copy_instead_of_move"`
	// DebugModules lets plugin faults crash the process instead of
	// disabling the plugin. For plugin development only.
	DebugModules        bool                    `json:"debug_modules" yaml:"debug_modules"`
	Mail                MailConfig              `json:"mail" yaml:"mail"`
	Readers             map[string]ModuleConfig `json:"readers" yaml:"readers"`
	Monitors            map[string]ModuleConfig `json:"monitors" yaml:"monitors"`
	Storage             StorageConfig           `json:"storage" yaml:"storage"`
	API                 APIConfig               `json:"api" yaml:"api"`
}

type MailConfig struct {
	Transport      string      `json:"transport" yaml:"transport"`
	Server         string      `json:"server" yaml:"server"`
	From           string      `json:"from" yaml:"from"`
	ErrorsFrom     string      `json:"errors_from" yaml:"errors_from"`
	ErrorsTo       string      `json:"errors_to" yaml:"errors_to"`
	ForceRecipient string      `json:"force_recipient" yaml:"force_recipient"`
	CopyAllTo      string      `json:"copy_all_to" yaml:"copy_all_to"`
	MaxEmails      int         `json:"max_emails" yaml:"max_emails"`
	Kafka          KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// ModuleConfig is the per-plugin block under readers or monitors. Presence
// of the block enables the plugin.
type ModuleConfig struct {
	Files         []string        `json:"files" yaml:"files"`
	Watchdog      *WatchdogConfig `json:"watchdog" yaml:"watchdog"`
	EmailTo       []string        `json:"email_to" yaml:"email_to"`
	EmailErrorsTo string          `json:"email_errors_to" yaml:"email_errors_to"`
	MaxEmails     int             `json:"max_emails" yaml:"max_emails"`
	Options       map[string]any  `json:"options" yaml:"options"`
}

// WatchdogConfig holds the optional low-volume checks of a reader. A nil
// threshold disables that check.
type WatchdogConfig struct {
	Read *WatchdogThreshold `json:"read" yaml:"read"`
	None *WatchdogThreshold `json:"none" yaml:"none"`
}

type WatchdogThreshold struct {
	MinCount    int `json:"min_count" yaml:"min_count"`
	RunsAllowed int `json:"runs_allowed" yaml:"runs_allowed"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// UnmarshalJSON accepts durations as Go duration strings ("30s") or as a
// number of seconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		Interval      jsonDuration `json:"interval"`
		Tick          jsonDuration `json:"tick"`
		ShutdownGrace jsonDuration `json:"shutdown_grace"`
	}{
		plain:         (*plain)(c),
		Interval:      jsonDuration(c.Interval),
		Tick:          jsonDuration(c.Tick),
		ShutdownGrace: jsonDuration(c.ShutdownGrace),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Interval = time.Duration(aux.Interval)
	c.Tick = time.Duration(aux.Tick)
	c.ShutdownGrace = time.Duration(aux.ShutdownGrace)
	return nil
}

type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*d = jsonDuration(t * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return err
		}
		*d = jsonDuration(parsed)
	case nil:
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

// DecodeOptions decodes the free-form options block into dst.
func (m ModuleConfig) DecodeOptions(dst any) error {
	if len(m.Options) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(m.Options)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		StateRoot:     "/var/lib/logsentry/state",
		TempRoot:      "/var/lib/logsentry/tmp",
		StateFile:     "/var/lib/logsentry/scheduler.json",
		DailyRunHour:  3,
		Interval:      30 * time.Second,
		Tick:          1 * time.Second,
		ShutdownGrace: 60 * time.Second,
		Mail: MailConfig{
			Transport: "smtp",
			Server:    "localhost:25",
			From:      "logsentry@localhost",
			MaxEmails: 50,
		},
		Readers:  map[string]ModuleConfig{},
		Monitors: map[string]ModuleConfig{},
		Storage:  StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:logsentry.db?_pragma=busy_timeout(5000)"},
		API:      APIConfig{Enabled: false, Addr: "127.0.0.1:8081"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 1 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 60 * time.Second
	}
	if cfg.Mail.MaxEmails <= 0 {
		cfg.Mail.MaxEmails = 50
	}
	if cfg.Mail.Transport == "" {
		cfg.Mail.Transport = "smtp"
	}
	if cfg.Mail.ErrorsFrom == "" {
		cfg.Mail.ErrorsFrom = cfg.Mail.From
	}
	if cfg.Readers == nil {
		cfg.Readers = map[string]ModuleConfig{}
	}
	if cfg.Monitors == nil {
		cfg.Monitors = map[string]ModuleConfig{}
	}
}

func Validate(cfg *Config) error {
	if cfg.StateRoot == "" {
		return errors.New("state_root required")
	}
	if cfg.TempRoot == "" {
		return errors.New("temp_root required")
	}
	if cfg.StateFile == "" {
		return errors.New("state_file required")
	}
	if cfg.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", cfg.Interval)
	}
	if cfg.Tick < 10*time.Millisecond || cfg.Tick > cfg.Interval {
		return fmt.Errorf("tick must be between 10ms and interval, got %s", cfg.Tick)
	}
	if cfg.ShutdownGrace < time.Second {
		return fmt.Errorf("shutdown_grace must be at least 1s, got %s", cfg.ShutdownGrace)
	}
	if cfg.DailyRunHour < 0 || cfg.DailyRunHour > 23 {
		return fmt.Errorf("daily_run_hour must be within 0-23, got %d", cfg.DailyRunHour)
	}
	switch strings.ToLower(cfg.Mail.Transport) {
	case "smtp":
		if cfg.Mail.Server == "" {
			return errors.New("mail.server required when mail.transport is smtp")
		}
	case "kafka":
		if len(cfg.Mail.Kafka.Brokers) == 0 || cfg.Mail.Kafka.Topic == "" {
			return errors.New("mail.kafka requires brokers and topic")
		}
	case "print":
	default:
		return fmt.Errorf("unsupported mail.transport %q", cfg.Mail.Transport)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	for name, mc := range cfg.Readers {
		if !strings.HasPrefix(name, "reader_") {
			return fmt.Errorf("reader %q: names must start with reader_", name)
		}
		if wd := mc.Watchdog; wd != nil {
			if (wd.Read != nil && wd.Read.RunsAllowed < 0) || (wd.None != nil && wd.None.RunsAllowed < 0) {
				return fmt.Errorf("reader %q: watchdog runs_allowed must be >= 0", name)
			}
		}
	}
	for name := range cfg.Monitors {
		if !strings.HasPrefix(name, "monitor_") {
			return fmt.Errorf("monitor %q: names must start with monitor_", name)
		}
	}
	return nil
}

// Manager holds the current config and reloads it when the file changes.
type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// Static wraps an already loaded config. Reload is a no-op.
func Static(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	// A broken file is not retried until it changes again.
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
