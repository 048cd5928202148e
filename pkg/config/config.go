package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = "configs/mediaprobe.yaml"

// Config holds the application configuration.
type Config struct {
	Probe   ProbeConfig   `yaml:"probe"`
	Request RequestConfig `yaml:"request"`
	Log     LogConfig     `yaml:"log"`
	DB      DBConfig      `yaml:"db"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ProbeConfig holds settings for duration probing.
type ProbeConfig struct {
	MetadataTimeout   Duration `yaml:"metadata_timeout"`
	DecodeTimeout     Duration `yaml:"decode_timeout"` // 0 disables
	Decoder           string   `yaml:"decoder"`        // "beep", "frames", "none"
	TempDir           string   `yaml:"temp_dir"`       // empty = OS temp dir
	MaxUploadBytes    ByteSize `yaml:"max_upload_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	Concurrency       int      `yaml:"concurrency"`
	CacheTTL          Duration `yaml:"cache_ttl"`
}

// RequestConfig holds settings for fetching remote sources.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path        string `yaml:"path"`
	HistoryKeep int    `yaml:"history_keep"` // newest probe rows kept by maintenance, 0 keeps all
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Probe: ProbeConfig{
			MetadataTimeout:   Duration(4000 * time.Millisecond),
			DecodeTimeout:     Duration(30 * time.Second),
			Decoder:           "beep",
			MaxUploadBytes:    100 * MB,
			AllowedExtensions: []string{".mp3", ".wav", ".flac", ".m4a", ".mp4", ".aac", ".ogg", ".oga", ".opus"},
			Concurrency:       4,
			CacheTTL:          Duration(30 * Day),
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(60 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path:        "./data/mediaprobe.db",
			HistoryKeep: 10000,
		},
		Server: ServerConfig{
			Address: "localhost:8420",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, defaults are merged with its values but nothing is written back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment specific settings from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MEDIAPROBE_DB_PATH"); v != "" {
		cfg.DB.Path = v
	}
	if v := os.Getenv("MEDIAPROBE_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MEDIAPROBE_TEMP_DIR"); v != "" {
		cfg.Probe.TempDir = v
	}
}

var extRe = regexp.MustCompile(`^\.[a-z0-9]+$`)

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Probe.Decoder) {
	case "beep", "frames", "none", "":
	default:
		return fmt.Errorf("invalid probe.decoder '%s': must be one of beep, frames, none", c.Probe.Decoder)
	}
	if c.Probe.MetadataTimeout <= 0 {
		return fmt.Errorf("probe.metadata_timeout must be positive")
	}
	if c.Probe.DecodeTimeout < 0 {
		return fmt.Errorf("probe.decode_timeout must not be negative")
	}
	if c.Probe.MaxUploadBytes <= 0 {
		return fmt.Errorf("probe.max_upload_bytes must be positive")
	}
	for _, ext := range c.Probe.AllowedExtensions {
		if !extRe.MatchString(ext) {
			return fmt.Errorf("invalid extension '%s' in probe.allowed_extensions: must look like '.mp3'", ext)
		}
	}
	if c.Request.Retries < 1 {
		return fmt.Errorf("request.retries must be at least 1")
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# mediaprobe configuration
# ------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Size:     B, KB, MB, GB

`)
	data = append(header, data...)

	reDecoder := regexp.MustCompile(`(?m)^(\s+)decoder:`)
	data = reDecoder.ReplaceAll(data, []byte("${1}# Options: beep, frames, none (disables the decode fallback)\n${1}decoder:"))

	reDecodeTimeout := regexp.MustCompile(`(?m)^(\s+)decode_timeout:`)
	data = reDecodeTimeout.ReplaceAll(data, []byte("${1}# 0s disables the decode timeout\n${1}decode_timeout:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
