package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for environment overrides.
const envPrefix = "VOXMSG_"

// Config represents the application configuration
type Config struct {
	// Messaging server
	Server struct {
		URL            string `yaml:"url"`
		Token          string `yaml:"token"`
		ConversationID string `yaml:"conversation_id"`
	} `yaml:"server"`

	// Audio devices and capture format
	Audio struct {
		Device       string `yaml:"device"`
		OutputDevice string `yaml:"output_device"`
		SampleRate   uint32 `yaml:"sample_rate"`
		Channels     uint32 `yaml:"channels"`
	} `yaml:"audio"`

	// Recording limits
	Recording struct {
		MaxDuration time.Duration `yaml:"max_duration"`
		MinDuration time.Duration `yaml:"min_duration"`
		PreviewDir  string        `yaml:"preview_dir"`
	} `yaml:"recording"`

	// Compression before upload
	Compression struct {
		TargetBitrate int    `yaml:"target_bitrate"`
		Format        string `yaml:"format"`
		FFmpegPath    string `yaml:"ffmpeg_path"`
	} `yaml:"compression"`

	// Upload behaviour
	Upload struct {
		Timeout     time.Duration `yaml:"timeout"`
		MaxAttempts int           `yaml:"max_attempts"`
		RetryDelay  time.Duration `yaml:"retry_delay"`
		Concurrency int           `yaml:"concurrency"`
	} `yaml:"upload"`

	// Diagnostics
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Terminal output
	Output struct {
		Format string `yaml:"format"`
	} `yaml:"output"`

	// Push-to-talk
	Hotkey struct {
		Key  string `yaml:"key"`
		Mode string `yaml:"mode"`
	} `yaml:"hotkey"`

	// Desktop feedback in push-to-talk mode
	Notify struct {
		Enabled  bool `yaml:"enabled"`
		Sound    bool `yaml:"sound"`
		CopyPath bool `yaml:"copy_path"`
	} `yaml:"notify"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.URL = "http://localhost:3000"

	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 1

	cfg.Recording.MaxDuration = 300 * time.Second
	cfg.Recording.MinDuration = time.Second

	cfg.Compression.TargetBitrate = 32000
	cfg.Compression.Format = "audio/webm"

	cfg.Upload.Timeout = 60 * time.Second
	cfg.Upload.MaxAttempts = 2
	cfg.Upload.RetryDelay = time.Second
	cfg.Upload.Concurrency = 3

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Output.Format = "text"

	cfg.Hotkey.Key = "Ctrl+Shift+V"
	cfg.Hotkey.Mode = "toggle"

	cfg.Notify.Enabled = true
	cfg.Notify.Sound = true

	return cfg
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
// Priority: explicit path > ~/.voxmsgrc > /etc/voxmsg/config.yaml > defaults.
// Environment overrides are applied on top.
func LoadWithFallback(explicitPath string) (*Config, error) {
	cfg, err := loadFile(explicitPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func loadFile(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigPath := filepath.Join(homeDir, ".voxmsgrc")
		if _, err := os.Stat(userConfigPath); err == nil {
			if cfg, err := Load(userConfigPath); err == nil {
				return cfg, nil
			}
		}
	}

	systemConfigPath := "/etc/voxmsg/config.yaml"
	if _, err := os.Stat(systemConfigPath); err == nil {
		if cfg, err := Load(systemConfigPath); err == nil {
			return cfg, nil
		}
	}

	return DefaultConfig(), nil
}

// ApplyEnv overrides server settings from VOXMSG_* variables so the token
// does not have to live in a file.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	envMap := map[string]*string{
		envPrefix + "SERVER_URL":   &c.Server.URL,
		envPrefix + "TOKEN":        &c.Server.Token,
		envPrefix + "CONVERSATION": &c.Server.ConversationID,
		envPrefix + "LOG_LEVEL":    &c.Logging.Level,
		envPrefix + "FFMPEG":       &c.Compression.FFmpegPath,
	}
	for envVar, dst := range envMap {
		if val, ok := lookup(envVar); ok && val != "" {
			*dst = val
		}
	}
}

// Validate checks settings that would otherwise fail deep in the pipeline.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	}
	if c.Audio.SampleRate == 0 || c.Audio.Channels == 0 {
		errs = append(errs, errors.New("audio.sample_rate and audio.channels must be positive"))
	}
	if c.Recording.MinDuration > c.Recording.MaxDuration {
		errs = append(errs, fmt.Errorf("recording.min_duration (%s) exceeds max_duration (%s)",
			c.Recording.MinDuration, c.Recording.MaxDuration))
	}
	if c.Upload.MaxAttempts < 1 {
		errs = append(errs, errors.New("upload.max_attempts must be at least 1"))
	}
	switch c.Hotkey.Mode {
	case "toggle", "hold":
	default:
		errs = append(errs, fmt.Errorf("hotkey.mode must be toggle or hold, got %q", c.Hotkey.Mode))
	}
	return errors.Join(errs...)
}

// SlogLevel maps the configured level name to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the structured logger described by the logging section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold a bearer token.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
