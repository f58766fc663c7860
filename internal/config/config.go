package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/tradeguard/internal/alert"
	"github.com/ppiankov/tradeguard/internal/logging"
	"github.com/ppiankov/tradeguard/internal/settings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRADEGUARD_"

// Config is the process configuration. Trading limits are not here: they
// live in the settings store and change through the options surface.
type Config struct {
	Log       LogConfig           `yaml:"log"        envPrefix:"LOG_"`
	Store     StoreConfig         `yaml:"store"      envPrefix:"STORE_"`
	Server    ServerConfig        `yaml:"server"     envPrefix:"SERVER_"`
	AutoClose AutoCloseConfig     `yaml:"auto_close" envPrefix:"AUTO_CLOSE_"`
	Schedule  ScheduleConfig      `yaml:"schedule"   envPrefix:"SCHEDULE_"`
	Alerts    []alert.AlertConfig `yaml:"alerts"`
}

type LogConfig struct {
	Format string `yaml:"format" env:"FORMAT"`
	Level  string `yaml:"level"  env:"LEVEL"`
}

// StoreConfig selects the settings backend.
type StoreConfig struct {
	Backend       string        `yaml:"backend"        env:"BACKEND"`
	Path          string        `yaml:"path"           env:"PATH"`
	PollInterval  time.Duration `yaml:"poll_interval"  env:"POLL_INTERVAL"`
	RedisAddr     string        `yaml:"redis_addr"     env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db"       env:"REDIS_DB"`
	RedisPrefix   string        `yaml:"redis_prefix"   env:"REDIS_PREFIX"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`

	// OriginPatterns are the websocket origins accepted besides same-host.
	OriginPatterns  []string      `yaml:"origin_patterns"  env:"ORIGIN_PATTERNS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"IDLE_TIMEOUT"`
}

type AutoCloseConfig struct {
	Delay time.Duration `yaml:"delay" env:"DELAY"`
}

// ScheduleConfig holds cron specs with a leading seconds field.
type ScheduleConfig struct {
	// DailyReset runs the change-lock reset and a reconcile of every session.
	DailyReset string `yaml:"daily_reset" env:"DAILY_RESET"`
}

// DefaultDir returns ~/.tradeguard, or .tradeguard when home is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tradeguard"
	}
	return filepath.Join(home, ".tradeguard")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Format: logging.FormatConsole, Level: "info"},
		Store: StoreConfig{
			Backend:      settings.BackendSQLite,
			Path:         filepath.Join(DefaultDir(), "tradeguard.db"),
			PollInterval: settings.DefaultPollInterval,
			RedisPrefix:  settings.DefaultRedisPrefix,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8787",
			ShutdownTimeout: 5 * time.Second,
			IdleTimeout:     2 * time.Minute,
		},
		AutoClose: AutoCloseConfig{Delay: 3 * time.Second},
		Schedule:  ScheduleConfig{DailyReset: "0 0 0 * * *"},
	}
}

// Load reads path (DefaultPath when empty), applies TRADEGUARD_* environment
// overrides and validates the result. A missing file yields defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// YAML overwrites only the fields it specifies.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	switch c.Store.Backend {
	case settings.BackendMemory:
	case settings.BackendFile, settings.BackendSQLite:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path: required for %s backend", c.Store.Backend))
		}
	case settings.BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr: required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.PollInterval < 0 {
		errs = append(errs, errors.New("store.poll_interval: must not be negative"))
	}

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr: required"))
	}
	if c.AutoClose.Delay <= 0 {
		errs = append(errs, errors.New("auto_close.delay: must be positive"))
	}
	if _, err := cronParser.Parse(c.Schedule.DailyReset); err != nil {
		errs = append(errs, fmt.Errorf("schedule.daily_reset: %w", err))
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			errs = append(errs, fmt.Errorf("alerts[%d].url: required", i))
		}
	}

	return errors.Join(errs...)
}

// StoreOptions converts the store section for settings.Open.
func (c *Config) StoreOptions() settings.OpenOptions {
	return settings.OpenOptions{
		Backend:       c.Store.Backend,
		Path:          c.Store.Path,
		PollInterval:  c.Store.PollInterval,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		RedisPrefix:   c.Store.RedisPrefix,
	}
}
