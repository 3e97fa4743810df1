package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8090"
	// Runs may take as long as their sandbox timeout, so the client waits longer.
	DefaultTimeout = 60 * time.Second
)

// Config holds CLI configuration.
type Config struct {
	BaseURL    string        `yaml:"baseURL"`
	Timeout    time.Duration `yaml:"timeout"`
	PrettyJSON *bool         `yaml:"prettyJSON"`
}

// Load reads the config file. A missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
}
