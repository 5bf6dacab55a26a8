package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config contains the program configuration
type Config struct {
	APIBaseURL       string  `yaml:"api_base_url"`
	PushURL          string  `yaml:"push_url"`
	AuthToken        string  `yaml:"auth_token"`
	StreamStatsURL   string  `yaml:"stream_stats_url"`
	RequestTimeout   int     `yaml:"request_timeout_seconds"`
	PollInterval     int     `yaml:"poll_interval_seconds"`
	Segments         int     `yaml:"segments"`
	SegmentDuration  float64 `yaml:"segment_duration_seconds"`
	MinClipSeconds   float64 `yaml:"min_clip_seconds"`
	TargetSampleRate int     `yaml:"target_sample_rate"`
	TargetChannels   int     `yaml:"target_channels"`
	MaxUploadMB      int     `yaml:"max_upload_mb"`
	Verbose          bool    `yaml:"verbose"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		APIBaseURL:       "https://api.trackscan.app",
		RequestTimeout:   25,
		PollInterval:     5,
		Segments:         3,
		SegmentDuration:  20,
		MinClipSeconds:   1,
		TargetSampleRate: 16000,
		TargetChannels:   1,
		MaxUploadMB:      50,
	}
}

// LoadConfigFile loads configuration from a YAML file.
// If path is empty, searches standard locations. Returns defaults if no file found.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if tok := os.Getenv("TRACKSCAN_TOKEN"); tok != "" {
		cfg.AuthToken = tok
	}

	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home := homeDir()
	locations := []string{
		"./trackscan.yaml",
		"./trackscan.yml",
		filepath.Join(home, ".config", "trackscan", "config.yaml"),
		filepath.Join(home, ".config", "trackscan", "config.yml"),
		filepath.Join(home, ".trackscan.yaml"),
		filepath.Join(home, ".trackscan.yml"),
	}

	for _, path := range locations {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile saves the current configuration to a YAML file
func SaveConfigFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(homeDir(), ".config", "trackscan", "config.yaml")
}

// GetDefaultLogPath returns the default log directory path
func GetDefaultLogPath() string {
	return filepath.Join(homeDir(), ".local", "share", "trackscan", "logs")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url cannot be empty")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("api_base_url must start with http:// or https://")
	}

	if c.PushURL != "" {
		valid := false
		for _, scheme := range []string{"http://", "https://", "ws://", "wss://"} {
			if strings.HasPrefix(c.PushURL, scheme) {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("push_url must use http(s) or ws(s) scheme, got %q", c.PushURL)
		}
	}

	if c.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout_seconds must be at least 1, got %d", c.RequestTimeout)
	}
	if c.PollInterval < 1 {
		return fmt.Errorf("poll_interval_seconds must be at least 1, got %d", c.PollInterval)
	}

	if c.Segments < 1 || c.Segments > 3 {
		return fmt.Errorf("segments must be between 1 and 3, got %d", c.Segments)
	}
	if c.SegmentDuration <= 0 {
		return fmt.Errorf("segment_duration_seconds must be positive, got %.1f", c.SegmentDuration)
	}
	if c.MinClipSeconds <= 0 || c.MinClipSeconds > c.SegmentDuration {
		return fmt.Errorf("min_clip_seconds must be positive and not exceed segment_duration_seconds, got %.1f", c.MinClipSeconds)
	}

	if c.TargetSampleRate < 8000 {
		return fmt.Errorf("target_sample_rate must be at least 8000, got %d", c.TargetSampleRate)
	}
	if c.TargetChannels < 1 || c.TargetChannels > 2 {
		return fmt.Errorf("target_channels must be 1 or 2, got %d", c.TargetChannels)
	}

	if c.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", c.MaxUploadMB)
	}

	return nil
}
