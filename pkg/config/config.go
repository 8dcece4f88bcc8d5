package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Service Service `yaml:"service"`
	Batch   Batch   `yaml:"batch"`
	Cache   Cache   `yaml:"cache"`
	Imagery Imagery `yaml:"imagery"`
	Log     Log     `yaml:"log"`
	DB      DB      `yaml:"db"`
}

// Service holds settings for the remote geocoding service.
type Service struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

// Batch holds per-run item-count ceilings. The imagery ceiling is lower
// because imagery is per-item more expensive on the service side.
type Batch struct {
	MaxLines        int `yaml:"max_lines"`
	MaxLinesImagery int `yaml:"max_lines_imagery"`
}

// Cache holds settings for the local result cache.
type Cache struct {
	TTL           Duration `yaml:"ttl"`
	MemoryEntries int      `yaml:"memory_entries"`
}

// Imagery holds default view parameters for imagery requests.
type Imagery struct {
	Zoom  int     `yaml:"zoom"`
	Pitch float64 `yaml:"pitch"`
	FOV   float64 `yaml:"fov"`
}

// Log holds logging settings.
type Log struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DB holds database settings.
type DB struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Service: Service{
			BaseURL: "http://localhost:8972",
			Timeout: Duration(300 * time.Second),
		},
		Batch: Batch{
			MaxLines:        1000,
			MaxLinesImagery: 500,
		},
		Cache: Cache{
			TTL:           Duration(30 * Day),
			MemoryEntries: 2048,
		},
		Imagery: Imagery{
			Zoom:  18,
			Pitch: 0,
			FOV:   90,
		},
		Log: Log{
			Path:  "./logs/geobatch.log",
			Level: "INFO",
		},
		DB: DB{
			Path: "./data/geobatch.db",
		},
	}
}

// Load reads the config file at path, merged over defaults. A missing file
// yields the defaults. The service API key falls back to the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if cfg.Service.APIKey == "" {
		if key := os.Getenv("GEOBATCH_API_KEY"); key != "" {
			cfg.Service.APIKey = key
		}
	}

	return cfg, nil
}

// Save writes the config to disk.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# geobatch configuration
# Durations support: ns, us, ms, s, m, h, d (day), w (week)

`)
	data = append(header, data...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// GenerateDefault writes a default config file unless one already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return Save(path, DefaultConfig())
}
