package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"runcell/internal/artifact"
	"runcell/internal/server"
	"runcell/internal/vm"
	"runcell/pkg/utils/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultRedisTTL        = 24 * time.Hour
	defaultRedisKeyPrefix  = "runcell:artifact:"

	envCacheSizeMB = "RUNCELL_CACHE_SIZE_MB"
	envUseCache    = "RUNCELL_USE_CACHE"
)

// RedisTierConfig holds the shared artifact store settings.
type RedisTierConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"keyPrefix"`
}

// CacheConfig holds artifact cache settings.
type CacheConfig struct {
	UseCache  *bool           `yaml:"useCache"`
	MaxSizeMB int             `yaml:"maxSizeMB"`
	Redis     RedisTierConfig `yaml:"redis"`
}

// SandboxConfig holds execution settings.
type SandboxConfig struct {
	DefaultTimeout    time.Duration `yaml:"defaultTimeout"`
	ShutdownGrace     time.Duration `yaml:"shutdownGrace"`
	DispatcherWorkers int           `yaml:"dispatcherWorkers"`
	MaxCallDepth      int           `yaml:"maxCallDepth"`
	MaxStackDepth     int           `yaml:"maxStackDepth"`
	MaxStringBytes    int           `yaml:"maxStringBytes"`
	MaxRunAllocMB     int           `yaml:"maxRunAllocMB"`
	MaxSourceBytes    int           `yaml:"maxSourceBytes"`
}

// AppConfig holds sandbox-server config.
type AppConfig struct {
	Server  server.Config `yaml:"server"`
	Logger  logger.Config `yaml:"logger"`
	Cache   CacheConfig   `yaml:"cache"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path when it exists. A missing file yields defaults.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadYAML(path, &cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	if cfg.Cache.Redis.Enabled && cfg.Cache.Redis.Addr == "" {
		return nil, fmt.Errorf("cache.redis.addr is required when the redis tier is enabled")
	}
	if cfg.Sandbox.DefaultTimeout < 0 || cfg.Sandbox.ShutdownGrace < 0 {
		return nil, fmt.Errorf("sandbox timeouts must not be negative")
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
	if cfg.Cache.UseCache == nil {
		useCache := true
		cfg.Cache.UseCache = &useCache
	}
	if cfg.Cache.MaxSizeMB <= 0 {
		cfg.Cache.MaxSizeMB = artifact.DefaultCacheSizeMB
	}
	if cfg.Cache.Redis.TTL == 0 {
		cfg.Cache.Redis.TTL = defaultRedisTTL
	}
	if cfg.Cache.Redis.KeyPrefix == "" {
		cfg.Cache.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
	if cfg.Sandbox.MaxCallDepth <= 0 {
		cfg.Sandbox.MaxCallDepth = vm.DefaultMaxCallDepth
	}
	if cfg.Sandbox.MaxStackDepth <= 0 {
		cfg.Sandbox.MaxStackDepth = vm.DefaultMaxStackDepth
	}
	if cfg.Sandbox.MaxStringBytes <= 0 {
		cfg.Sandbox.MaxStringBytes = vm.DefaultMaxStringBytes
	}
	if cfg.Sandbox.MaxRunAllocMB <= 0 {
		cfg.Sandbox.MaxRunAllocMB = vm.DefaultMaxRunAllocation >> 20
	}
}

func (c SandboxConfig) limits() vm.Limits {
	return vm.Limits{
		MaxCallDepth:     c.MaxCallDepth,
		MaxStackDepth:    c.MaxStackDepth,
		MaxStringBytes:   c.MaxStringBytes,
		MaxRunAllocation: int64(c.MaxRunAllocMB) << 20,
	}
}

// applyEnvOverrides lets the environment replace the cache size and the
// cache switch. Unparseable values are logged and ignored.
func applyEnvOverrides(ctx context.Context, cfg *AppConfig, lookup func(string) (string, bool)) {
	if raw, ok := lookup(envCacheSizeMB); ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 {
			logger.Warn(ctx, "ignoring invalid cache size override", zap.String("env", envCacheSizeMB), zap.String("value", raw))
		} else {
			cfg.Cache.MaxSizeMB = n
		}
	}
	if raw, ok := lookup(envUseCache); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			logger.Warn(ctx, "ignoring invalid cache switch override", zap.String("env", envUseCache), zap.String("value", raw))
		} else {
			cfg.Cache.UseCache = &b
		}
	}
}

func (c CacheConfig) compileOptions() artifact.CompileOptions {
	opts := artifact.DefaultCompileOptions()
	opts.UseCache = c.UseCache == nil || *c.UseCache
	return opts
}
