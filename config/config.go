// Package config loads scribe's settings: built-in defaults, then an optional
// YAML or TOML file, then .env and environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mrsingh-rishi/meeting-scribe/sink"
)

// Config represents the complete configuration for both halves of scribe.
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Transcription TranscriptionConfig `yaml:"transcription" toml:"transcription"`
	Client        ClientConfig        `yaml:"client" toml:"client"`
	Capture       CaptureConfig       `yaml:"capture" toml:"capture"`
	Storage       StorageConfig       `yaml:"storage" toml:"storage"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// ServerConfig configures `scribe serve`.
type ServerConfig struct {
	Address           string        `yaml:"address" toml:"address"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout" toml:"transcribe_timeout"`
	MaxPending        int           `yaml:"max_pending" toml:"max_pending"` // 0 = unbounded
	WriteTimeout      time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

// TranscriptionConfig selects the speech-to-text backend. Without an API key
// the server answers with simulated text.
type TranscriptionConfig struct {
	APIKey   string `yaml:"api_key" toml:"api_key"`
	BaseURL  string `yaml:"base_url" toml:"base_url"`
	Model    string `yaml:"model" toml:"model"`
	Language string `yaml:"language" toml:"language"`
	Prompt   string `yaml:"prompt" toml:"prompt"`
}

// ClientConfig configures the recording client's connection.
type ClientConfig struct {
	URL                 string        `yaml:"url" toml:"url"`
	Speaker             string        `yaml:"speaker" toml:"speaker"`
	ReconnectInterval   time.Duration `yaml:"reconnect_interval" toml:"reconnect_interval"`
	ReconnectMultiplier float64       `yaml:"reconnect_multiplier" toml:"reconnect_multiplier"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay" toml:"reconnect_max_delay"`
	ReconnectAttempts   int           `yaml:"reconnect_attempts" toml:"reconnect_attempts"`
	DialTimeout         time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

// CaptureConfig configures the audio input.
type CaptureConfig struct {
	Interval    time.Duration `yaml:"interval" toml:"interval"`
	SampleRate  int           `yaml:"sample_rate" toml:"sample_rate"`
	Channels    int           `yaml:"channels" toml:"channels"`
	FFmpegPath  string        `yaml:"ffmpeg_path" toml:"ffmpeg_path"`
	InputFormat string        `yaml:"input_format" toml:"input_format"` // empty picks the OS default
	Device      string        `yaml:"device" toml:"device"`
}

// StorageConfig locates the transcript database.
type StorageConfig struct {
	Path     string `yaml:"path" toml:"path"`
	Disabled bool   `yaml:"disabled" toml:"disabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":5000",
			TranscribeTimeout: 30 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		Transcription: TranscriptionConfig{
			Model: "whisper-1",
		},
		Client: ClientConfig{
			URL:                 "ws://localhost:5000/ws",
			Speaker:             "You",
			ReconnectInterval:   5 * time.Second,
			ReconnectMultiplier: 1,
			ReconnectAttempts:   5,
			DialTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
		},
		Capture: CaptureConfig{
			Interval:   2 * time.Second,
			SampleRate: 16000,
			Channels:   1,
			FFmpegPath: "ffmpeg",
		},
		Storage: StorageConfig{
			Path: sink.DefaultDBPath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load builds the configuration. path may be empty; envFiles default to
// ".env" and are skipped when missing.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrapf(err, "failed to load env file %s", f)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.Storage.Path = expandTilde(cfg.Storage.Path)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return errors.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	if err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	setString(&cfg.Server.Address, "SCRIBE_SERVER_ADDRESS")
	if v := os.Getenv("PORT"); v != "" && os.Getenv("SCRIBE_SERVER_ADDRESS") == "" {
		cfg.Server.Address = ":" + v
	}
	setString(&cfg.Transcription.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Transcription.APIKey, "SCRIBE_OPENAI_API_KEY")
	setString(&cfg.Transcription.BaseURL, "SCRIBE_OPENAI_BASE_URL")
	setString(&cfg.Transcription.Model, "SCRIBE_TRANSCRIPTION_MODEL")
	setString(&cfg.Transcription.Language, "SCRIBE_TRANSCRIPTION_LANGUAGE")
	setString(&cfg.Client.URL, "SCRIBE_CLIENT_URL")
	setString(&cfg.Client.Speaker, "SCRIBE_SPEAKER")
	setString(&cfg.Capture.Device, "SCRIBE_CAPTURE_DEVICE")
	setString(&cfg.Capture.InputFormat, "SCRIBE_CAPTURE_INPUT_FORMAT")
	setString(&cfg.Storage.Path, "SCRIBE_DB_PATH")
	setString(&cfg.Logging.Level, "SCRIBE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "SCRIBE_LOG_FORMAT")
	setString(&cfg.Logging.Output, "SCRIBE_LOG_OUTPUT")

	if err := setDuration(&cfg.Server.TranscribeTimeout, "SCRIBE_TRANSCRIBE_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Client.ReconnectInterval, "SCRIBE_RECONNECT_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Capture.Interval, "SCRIBE_CAPTURE_INTERVAL"); err != nil {
		return err
	}
	if err := setInt(&cfg.Client.ReconnectAttempts, "SCRIBE_RECONNECT_ATTEMPTS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Server.MaxPending, "SCRIBE_MAX_PENDING"); err != nil {
		return err
	}
	if v := os.Getenv("SCRIBE_STORAGE_DISABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "SCRIBE_STORAGE_DISABLED=%q", v)
		}
		cfg.Storage.Disabled = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "%s=%q", key, v)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "%s=%q", key, v)
	}
	*dst = n
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return errors.Wrap(err, "server config")
	}
	if err := c.Client.Validate(); err != nil {
		return errors.Wrap(err, "client config")
	}
	if err := c.Capture.Validate(); err != nil {
		return errors.Wrap(err, "capture config")
	}
	if err := c.Storage.Validate(); err != nil {
		return errors.Wrap(err, "storage config")
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging config")
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return errors.New("address cannot be empty")
	}
	if s.TranscribeTimeout <= 0 {
		return errors.Errorf("transcribe_timeout must be positive, got %s", s.TranscribeTimeout)
	}
	if s.MaxPending < 0 {
		return errors.Errorf("max_pending cannot be negative, got %d", s.MaxPending)
	}
	if s.WriteTimeout <= 0 {
		return errors.Errorf("write_timeout must be positive, got %s", s.WriteTimeout)
	}
	return nil
}

func (c *ClientConfig) Validate() error {
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return errors.Errorf("url must start with ws:// or wss://, got %q", c.URL)
	}
	if c.ReconnectInterval <= 0 {
		return errors.Errorf("reconnect_interval must be positive, got %s", c.ReconnectInterval)
	}
	if c.ReconnectMultiplier < 1 {
		return errors.Errorf("reconnect_multiplier must be at least 1, got %g", c.ReconnectMultiplier)
	}
	if c.ReconnectMaxDelay < 0 {
		return errors.Errorf("reconnect_max_delay cannot be negative, got %s", c.ReconnectMaxDelay)
	}
	if c.ReconnectAttempts < 0 {
		return errors.Errorf("reconnect_attempts cannot be negative, got %d", c.ReconnectAttempts)
	}
	if c.DialTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("dial_timeout and write_timeout must be positive")
	}
	return nil
}

func (c *CaptureConfig) Validate() error {
	if c.Interval < 100*time.Millisecond {
		return errors.Errorf("interval must be at least 100ms, got %s", c.Interval)
	}
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return errors.Errorf("sample_rate must be between 8000 and 48000, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return errors.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	return nil
}

func (s *StorageConfig) Validate() error {
	if !s.Disabled && s.Path == "" {
		return errors.New("path cannot be empty unless storage is disabled")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return errors.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return errors.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// Simulated reports whether the server runs without a transcription backend.
func (t TranscriptionConfig) Simulated() bool {
	return t.APIKey == ""
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
