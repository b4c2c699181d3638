package readers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsentry/internal/clock"
	"logsentry/internal/config"
	"logsentry/internal/reader"
)

func TestRegistered(t *testing.T) {
	names := reader.Names()
	assert.Subset(t, names, []string{"reader_json", "reader_keyvalue", "reader_sshd"})
}

func newSSHD(t *testing.T) *SSHD {
	t.Helper()
	s := &SSHD{}
	require.NoError(t, s.LoadConfig(config.ModuleConfig{Options: map[string]any{"timezone": "UTC"}}))
	return s
}

func TestSSHDFailedPassword(t *testing.T) {
	s := newSSHD(t)
	ev, err := s.ParseLine("Mar  4 10:11:12 bastion sshd[2211]: Failed password for invalid user admin from 203.0.113.7 port 52113 ssh2")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "bastion", ev.String("host"))
	assert.Equal(t, "admin", ev.String("user"))
	assert.Equal(t, "203.0.113.7", ev.String("source"))
	assert.Equal(t, "failure", ev.String("result"))
	assert.Equal(t, "password", ev.String("method"))
	v, _ := ev.Get("invalid_user")
	assert.Equal(t, true, v)
}

func TestSSHDYearFollowsScanClock(t *testing.T) {
	s := &SSHD{}
	var cu reader.ClockUser = s
	cu.UseClock(clock.NewManual(time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)))
	require.NoError(t, s.LoadConfig(config.ModuleConfig{Options: map[string]any{"timezone": "UTC"}}))

	ev, err := s.ParseLine("Dec 31 23:59:50 bastion sshd[2211]: Failed password for root from 203.0.113.7 port 52113 ssh2")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "2025-12-31T23:59:50Z", ev.String("timestamp"))
}

func TestSSHDAccepted(t *testing.T) {
	s := newSSHD(t)
	ev, err := s.ParseLine("Mar  4 10:11:12 bastion sshd[2211]: Accepted publickey for deploy from 198.51.100.2 port 40022 ssh2: ED25519 SHA256:abc")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "deploy", ev.String("user"))
	assert.Equal(t, "success", ev.String("result"))
	assert.Equal(t, "publickey", ev.String("method"))
}

func TestSSHDNoneAndErrors(t *testing.T) {
	s := newSSHD(t)
	for _, line := range []string{
		"",
		"Mar  4 10:11:12 bastion CRON[99]: (root) CMD (run-parts /etc/cron.hourly)",
		"Mar  4 10:11:12 bastion sshd[2211]: Connection closed by 203.0.113.7 port 52113",
	} {
		ev, err := s.ParseLine(line)
		assert.NoError(t, err, line)
		assert.Nil(t, ev, line)
	}
	_, err := s.ParseLine("garbage without a header")
	assert.Error(t, err)
}

func TestJSONReader(t *testing.T) {
	j := &JSON{}
	require.NoError(t, j.LoadConfig(config.ModuleConfig{Options: map[string]any{"require": []any{"user"}}}))

	ev, err := j.ParseLine(`{"time":"2026-01-02T03:04:05Z","username":"carol","src_ip":"10.1.1.1","outcome":"denied"}`)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "carol", ev.String("user"))
	assert.Equal(t, "failure", ev.String("result"))

	ev, err = j.ParseLine(`{"msg":"no user here"}`)
	require.NoError(t, err)
	assert.Nil(t, ev)

	_, err = j.ParseLine("not json")
	assert.Error(t, err)
}

func TestKeyValueReader(t *testing.T) {
	k := &KeyValue{}
	require.NoError(t, k.LoadConfig(config.ModuleConfig{}))

	ev, err := k.ParseLine(`2026-01-02 03:04:05 vpn01 user=dave src=10.2.2.2 status=ok`)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "vpn01", ev.String("host"))
	assert.Equal(t, "dave", ev.String("user"))
	assert.Equal(t, "10.2.2.2", ev.String("source"))
	assert.Equal(t, "success", ev.String("result"))
}
