package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Cache.MaxSizeMB != 256 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.Cache.compileOptions().UseCache {
		t.Fatalf("expected cache to be on by default")
	}
	if l := cfg.Sandbox.limits(); l.MaxStackDepth != 1024 || l.MaxRunAllocation != 256<<20 {
		t.Fatalf("unexpected interpreter limits %+v", l)
	}
}

func TestLoadAppConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := []byte("cache:\n  useCache: false\n  maxSizeMB: 8\n  redis:\n    enabled: true\n    addr: 127.0.0.1:6379\nsandbox:\n  defaultTimeout: 250ms\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.MaxSizeMB != 8 || cfg.Cache.compileOptions().UseCache {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Sandbox.DefaultTimeout != 250*time.Millisecond || cfg.Cache.Redis.KeyPrefix != defaultRedisKeyPrefix {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("cache:\n  redis:\n    enabled: true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadAppConfig(path); err == nil {
		t.Fatalf("expected missing redis addr to fail")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg, err := loadAppConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	env := map[string]string{envCacheSizeMB: "64", envUseCache: "false"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	applyEnvOverrides(context.Background(), cfg, lookup)
	if cfg.Cache.MaxSizeMB != 64 || cfg.Cache.compileOptions().UseCache {
		t.Fatalf("expected overrides to apply, got %+v", cfg.Cache)
	}

	env = map[string]string{envCacheSizeMB: "lots", envUseCache: "maybe"}
	applyEnvOverrides(context.Background(), cfg, lookup)
	if cfg.Cache.MaxSizeMB != 64 || cfg.Cache.compileOptions().UseCache {
		t.Fatalf("expected invalid overrides to be ignored, got %+v", cfg.Cache)
	}
}
