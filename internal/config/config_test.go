package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 300*time.Second, cfg.Recording.MaxDuration)
	assert.Equal(t, time.Second, cfg.Recording.MinDuration)
	assert.Equal(t, 60*time.Second, cfg.Upload.Timeout)
	assert.Equal(t, 2, cfg.Upload.MaxAttempts)
	assert.Equal(t, 3, cfg.Upload.Concurrency)
	assert.Equal(t, 32000, cfg.Compression.TargetBitrate)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  url: https://chat.example.com
  conversation_id: "7"
recording:
  max_duration: 90s
upload:
  retry_delay: 250ms
hotkey:
  mode: hold
notify:
  sound: false
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.Server.URL)
	assert.Equal(t, "7", cfg.Server.ConversationID)
	assert.Equal(t, 90*time.Second, cfg.Recording.MaxDuration)
	assert.Equal(t, 250*time.Millisecond, cfg.Upload.RetryDelay)
	assert.Equal(t, "hold", cfg.Hotkey.Mode)
	assert.False(t, cfg.Notify.Sound)
	assert.True(t, cfg.Notify.Enabled)
	// untouched defaults survive
	assert.Equal(t, time.Second, cfg.Recording.MinDuration)
	assert.Equal(t, uint32(16000), cfg.Audio.SampleRate)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.Token = "secret"
	cfg.Upload.Timeout = 45 * time.Second
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"VOXMSG_TOKEN":        "from-env",
		"VOXMSG_SERVER_URL":   "https://env.example.com",
		"VOXMSG_CONVERSATION": "",
	}
	cfg := DefaultConfig()
	cfg.Server.ConversationID = "keep"
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "from-env", cfg.Server.Token)
	assert.Equal(t, "https://env.example.com", cfg.Server.URL)
	assert.Equal(t, "keep", cfg.Server.ConversationID)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.URL = ""
	cfg.Upload.MaxAttempts = 0
	cfg.Hotkey.Mode = "tap"
	cfg.Recording.MinDuration = 10 * time.Minute

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.url")
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "hotkey.mode")
	assert.Contains(t, err.Error(), "min_duration")
}

func TestSlogLevelAndLogger(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	cfg.Logging.Level = "WARN"
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())

	cfg.Logging.Format = "json"
	var buf bytes.Buffer
	cfg.NewLogger(&buf).Warn("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
