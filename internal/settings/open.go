package settings

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// OpenOptions selects and configures a backend.
type OpenOptions struct {
	Backend string

	// Path is the JSON document (file) or database file (sqlite).
	Path         string
	PollInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open builds a Store for the configured backend.
func Open(opts OpenOptions, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		backend Backend
		err     error
	)
	switch opts.Backend {
	case "", BackendMemory:
		backend = NewMemoryBackend()
	case BackendFile:
		backend, err = NewFileBackend(opts.Path, log)
	case BackendSQLite:
		backend, err = NewSQLiteBackend(opts.Path, opts.PollInterval, log)
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		backend = NewRedisBackend(client, opts.RedisPrefix, log)
	default:
		return nil, fmt.Errorf("unknown settings backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("settings store ready", zap.String("backend", opts.Backend), zap.String("path", opts.Path))
	return NewStore(backend, log), nil
}
