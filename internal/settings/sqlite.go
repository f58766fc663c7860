package settings

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultPollInterval is how often the sqlite backend checks for commits
// made by other processes.
const DefaultPollInterval = 500 * time.Millisecond

// SQLiteBackend stores keys in a sqlite table. Update runs inside
// BEGIN IMMEDIATE, so it is serialized across processes sharing the file.
type SQLiteBackend struct {
	db   *sql.DB
	log  *zap.Logger
	poll time.Duration

	mu       sync.Mutex
	lastSeen map[string][]byte

	feed      feed
	watchOnce sync.Once
	watchErr  error
	stop      context.CancelFunc
	done      chan struct{}
}

// NewSQLiteBackend opens (or creates) the database at path and runs
// migrations. A non-positive poll uses DefaultPollInterval.
func NewSQLiteBackend(path string, poll time.Duration, log *zap.Logger) (*SQLiteBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create settings directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets the change-feed poller read while a tab writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	b := &SQLiteBackend{db: db, log: log, poll: poll}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	values, err := b.loadAll(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.lastSeen = values

	log.Debug("sqlite settings store opened", zap.String("path", path))
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	return err
}

// queryer is the subset shared by *sql.DB, *sql.Conn and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *SQLiteBackend) Load(ctx context.Context, keys []string) (map[string][]byte, error) {
	return b.load(ctx, b.db, keys)
}

func (b *SQLiteBackend) Save(ctx context.Context, values map[string][]byte) error {
	return b.Update(ctx, nil, func(map[string][]byte) (map[string][]byte, error) {
		return values, nil
	})
}

func (b *SQLiteBackend) Update(ctx context.Context, keys []string, fn func(map[string][]byte) (map[string][]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := b.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlite conn: %w", err)
	}
	defer conn.Close()

	// IMMEDIATE takes the write lock up front so the read below cannot be
	// invalidated by another process before commit.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if _, err := conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
				b.log.Warn("sqlite rollback failed", zap.Error(err))
			}
		}
	}()

	var cur map[string][]byte
	if len(keys) > 0 {
		cur, err = b.load(ctx, conn, keys)
		if err != nil {
			return err
		}
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	if len(next) == 0 {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		committed = true
		return nil
	}

	now := time.Now().Unix()
	for k, v := range next {
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true

	changed := diffValues(b.lastSeen, next)
	mergeValues(b.lastSeen, next)
	b.feed.publish(changed)
	return nil
}

// Watch starts the data_version poller on first use.
func (b *SQLiteBackend) Watch(ctx context.Context) (<-chan map[string][]byte, error) {
	b.watchOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.Background())
		// data_version is per connection, so the poller pins one.
		conn, err := b.db.Conn(runCtx)
		if err != nil {
			cancel()
			b.watchErr = fmt.Errorf("sqlite conn: %w", err)
			return
		}
		b.stop = cancel
		b.done = make(chan struct{})
		go b.run(runCtx, conn)
	})
	if b.watchErr != nil {
		return nil, b.watchErr
	}
	return b.feed.subscribe(ctx), nil
}

func (b *SQLiteBackend) Close() error {
	if b.stop != nil {
		b.stop()
		<-b.done
	}
	b.feed.close()
	return b.db.Close()
}

func (b *SQLiteBackend) run(ctx context.Context, conn *sql.Conn) {
	defer close(b.done)
	defer conn.Close()

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	var version int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var v int64
		if err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
			if ctx.Err() == nil {
				b.log.Warn("sqlite data_version poll failed", zap.Error(err))
			}
			continue
		}
		if v == version {
			continue
		}
		version = v
		b.reload(ctx)
	}
}

func (b *SQLiteBackend) reload(ctx context.Context) {
	b.mu.Lock()
	values, err := b.loadAll(ctx, b.db)
	if err != nil {
		b.mu.Unlock()
		b.log.Warn("sqlite settings reload failed", zap.Error(err))
		return
	}
	changed := diffValues(b.lastSeen, values)
	b.lastSeen = values
	b.mu.Unlock()

	b.feed.publish(changed)
}

func (b *SQLiteBackend) loadAll(ctx context.Context, q queryer) (map[string][]byte, error) {
	rows, err := q.QueryContext(ctx, "SELECT key, value FROM kv")
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	return scanValues(rows)
}

func (b *SQLiteBackend) load(ctx context.Context, q queryer, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := q.QueryContext(ctx, "SELECT key, value FROM kv WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	return scanValues(rows)
}

func scanValues(rows *sql.Rows) (map[string][]byte, error) {
	defer rows.Close()
	values := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	return values, nil
}
