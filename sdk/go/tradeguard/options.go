package tradeguard

import (
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/settings"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	open   settings.OpenOptions
	store  *settings.Store
	source string
	now    func() time.Time
	log    *zap.Logger
}

// WithSQLite uses the SQLite settings database at path.
func WithSQLite(path string) Option {
	return func(c *clientConfig) {
		c.open.Backend = settings.BackendSQLite
		c.open.Path = path
	}
}

// WithFile uses the JSON settings file at path.
func WithFile(path string) Option {
	return func(c *clientConfig) {
		c.open.Backend = settings.BackendFile
		c.open.Path = path
	}
}

// WithRedis uses a Redis settings store.
func WithRedis(addr, password string, db int) Option {
	return func(c *clientConfig) {
		c.open.Backend = settings.BackendRedis
		c.open.RedisAddr = addr
		c.open.RedisPassword = password
		c.open.RedisDB = db
	}
}

// WithSource names the caller in logs and as the control ID (default "sdk").
func WithSource(name string) Option {
	return func(c *clientConfig) { c.source = name }
}

// WithLogger sets the logger. Logging is off by default.
func WithLogger(log *zap.Logger) Option {
	return func(c *clientConfig) { c.log = log }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) { c.now = now }
}

// withStore injects an open store. The client does not close it.
func withStore(s *settings.Store) Option {
	return func(c *clientConfig) { c.store = s }
}
