package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite default, got %s", cfg.Store.Backend)
	}
	if cfg.AutoClose.Delay != 3*time.Second {
		t.Errorf("expected 3s delay, got %v", cfg.AutoClose.Delay)
	}
	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Errorf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("expected 2m idle timeout, got %v", cfg.Server.IdleTimeout)
	}
}

func TestLoadYAMLOverridesOnlyGivenFields(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: file
  path: /tmp/tg.json
auto_close:
  delay: 5s
alerts:
  - url: https://hooks.example.com/x
    format: slack
    events: [limit_reached]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != "file" || cfg.Store.Path != "/tmp/tg.json" {
		t.Errorf("unexpected store %+v", cfg.Store)
	}
	if cfg.AutoClose.Delay != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.AutoClose.Delay)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("expected default log format kept, got %s", cfg.Log.Format)
	}
	if len(cfg.Alerts) != 1 || cfg.Alerts[0].Format != "slack" {
		t.Errorf("unexpected alerts %+v", cfg.Alerts)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: file\n  path: /tmp/a.json\n")
	t.Setenv("TRADEGUARD_STORE_BACKEND", "redis")
	t.Setenv("TRADEGUARD_STORE_REDIS_ADDR", "localhost:6379")
	t.Setenv("TRADEGUARD_SERVER_ORIGIN_PATTERNS", "trade.example.com,*.example.org")
	t.Setenv("TRADEGUARD_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisAddr != "localhost:6379" {
		t.Errorf("expected env to select redis, got %+v", cfg.Store)
	}
	if len(cfg.Server.OriginPatterns) != 2 {
		t.Errorf("expected 2 origin patterns, got %v", cfg.Server.OriginPatterns)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json, got %s", cfg.Log.Format)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "store: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "etcd"
	cfg.AutoClose.Delay = 0
	cfg.Schedule.DailyReset = "whenever"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"store.backend", "auto_close.delay", "schedule.daily_reset"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestValidateRedisNeedsAddr(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "redis"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "redis_addr") {
		t.Errorf("expected redis_addr error, got %v", err)
	}
}

func TestStoreOptions(t *testing.T) {
	cfg := Default()
	cfg.Store.RedisDB = 3
	opts := cfg.StoreOptions()
	if opts.Backend != cfg.Store.Backend || opts.Path != cfg.Store.Path || opts.RedisDB != 3 {
		t.Errorf("unexpected options %+v", opts)
	}
}
