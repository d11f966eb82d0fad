package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.True(t, cfg.Video)
	assert.True(t, cfg.Audio)
	require.Len(t, cfg.ICEServers, 1)
	assert.Len(t, cfg.WebRTCServers()[0].URLs, 2)
}

func TestFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`
mode: debug
port: 9000
write_interval: 1s
ice_servers:
  - urls: ["turn:turn.example.org:3478"]
    username: alice
    credential: s3cret
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))
	chdir(t, dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("TELECALL_SEND_BUFFER", "16")

	fs := pflag.NewFlagSet("peer", pflag.ContinueOnError)
	fs.Bool("video", true, "")
	require.NoError(t, fs.Parse([]string{"--video=false"}))

	cfg, err := LoadWithFlags(fs)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, time.Second, cfg.WriteInterval)
	assert.Equal(t, 16, cfg.SendBuffer)
	assert.False(t, cfg.Video)

	servers := cfg.WebRTCServers()
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"turn:turn.example.org:3478"}, servers[0].URLs)
	assert.Equal(t, "alice", servers[0].Username)
	assert.Equal(t, "s3cret", servers[0].Credential)
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
