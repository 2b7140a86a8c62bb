package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Source)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 15*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 10*time.Second, cfg.OrphanTimeout)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, int64(65536), cfg.ReadLimit)
	assert.True(t, cfg.Capture.Audio)
	assert.False(t, cfg.Capture.Video)
}

func TestLoadFile_ReadsYAML(t *testing.T) {
	p := writeFile(t, `
signal_url: wss://sfu.example.org/ws
rooms: [a, b]
display_name: Bob
handshake_timeout: 3s
capture:
  video: true
  video_file: /tmp/in.ivf
`)
	cfg, err := LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, p, cfg.Source)
	assert.Equal(t, []string{"a", "b"}, cfg.Rooms)
	assert.Equal(t, "Bob", cfg.DisplayName)
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout)
	assert.True(t, cfg.Capture.Video)
	assert.True(t, cfg.Capture.Audio)
	assert.Equal(t, "/tmp/in.ivf", cfg.Capture.VideoFile)
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	t.Setenv("MEET_DISPLAY_NAME", "Eve")
	t.Setenv("MEET_ORPHAN_TIMEOUT", "2s")
	t.Setenv("MEET_CAPTURE_VIDEO", "true")
	t.Setenv("MEET_ROOMS", "x,y")

	cfg, err := LoadFile(writeFile(t, "display_name: Bob\n"))
	require.NoError(t, err)
	assert.Equal(t, "Eve", cfg.DisplayName)
	assert.Equal(t, 2*time.Second, cfg.OrphanTimeout)
	assert.True(t, cfg.Capture.Video)
	assert.Equal(t, []string{"x", "y"}, cfg.Rooms)
}

func TestLoadFile_Invalid(t *testing.T) {
	_, err := LoadFile(writeFile(t, "signal_url: http://nope\n"))
	assert.ErrorContains(t, err, "signal_url")

	_, err = LoadFile(writeFile(t, "handshake_timeout: 0s\n"))
	assert.ErrorContains(t, err, "handshake_timeout")

	_, err = LoadFile(writeFile(t, "rooms: [a\n"))
	assert.Error(t, err)
}
