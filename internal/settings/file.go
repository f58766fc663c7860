package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// fileDebounce is how long the watcher waits after the last event before
// re-reading the document.
const fileDebounce = 100 * time.Millisecond

// FileBackend stores every key in one JSON document. Writes go through a
// temp file and rename. Update is serialized within the process only; edits
// made by other processes reach the change feed through fsnotify.
type FileBackend struct {
	path string
	log  *zap.Logger

	mu       sync.Mutex
	lastSeen map[string][]byte

	feed      feed
	watchOnce sync.Once
	watchErr  error
	stop      context.CancelFunc
}

// NewFileBackend opens (or lazily creates) the document at path.
func NewFileBackend(path string, log *zap.Logger) (*FileBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}
	b := &FileBackend{path: path, log: log}
	values, err := b.read()
	if err != nil {
		return nil, err
	}
	b.lastSeen = values
	return b, nil
}

func (b *FileBackend) Load(_ context.Context, keys []string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	values, err := b.read()
	if err != nil {
		return nil, err
	}
	return pick(values, keys), nil
}

func (b *FileBackend) Save(_ context.Context, values map[string][]byte) error {
	b.mu.Lock()
	changed, err := b.mergeAndWrite(values)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.feed.publish(changed)
	return nil
}

func (b *FileBackend) Update(_ context.Context, keys []string, fn func(map[string][]byte) (map[string][]byte, error)) error {
	b.mu.Lock()
	current, err := b.read()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	next, err := fn(pick(current, keys))
	if err != nil || len(next) == 0 {
		b.mu.Unlock()
		return err
	}
	changed, err := b.mergeAndWrite(next)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.feed.publish(changed)
	return nil
}

// Watch starts the fsnotify watcher on first use.
func (b *FileBackend) Watch(ctx context.Context) (<-chan map[string][]byte, error) {
	b.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			b.watchErr = fmt.Errorf("create file watcher: %w", err)
			return
		}
		// The document is replaced by rename, so watch the directory.
		if err := watcher.Add(filepath.Dir(b.path)); err != nil {
			watcher.Close()
			b.watchErr = fmt.Errorf("watch %q: %w", filepath.Dir(b.path), err)
			return
		}
		runCtx, cancel := context.WithCancel(context.Background())
		b.stop = cancel
		go b.run(runCtx, watcher)
	})
	if b.watchErr != nil {
		return nil, b.watchErr
	}
	return b.feed.subscribe(ctx), nil
}

func (b *FileBackend) Close() error {
	if b.stop != nil {
		b.stop()
	}
	b.feed.close()
	return nil
}

func (b *FileBackend) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(b.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(fileDebounce, b.reload)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.log.Warn("settings file watcher error", zap.Error(err))
		}
	}
}

// reload publishes whatever changed on disk since the last read or write.
func (b *FileBackend) reload() {
	b.mu.Lock()
	values, err := b.read()
	if err != nil {
		b.mu.Unlock()
		b.log.Warn("settings file reload failed", zap.String("path", b.path), zap.Error(err))
		return
	}
	changed := diffValues(b.lastSeen, values)
	b.lastSeen = values
	b.mu.Unlock()

	b.feed.publish(changed)
}

func (b *FileBackend) read() (map[string][]byte, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]byte{}, nil
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	values := make(map[string][]byte, len(doc))
	for k, v := range doc {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("parse settings file: %w", err)
		}
		values[k] = buf.Bytes()
	}
	return values, nil
}

// mergeAndWrite must be called with mu held. It returns every entry that
// differs from the last published state, including edits another process
// made since the watcher last reloaded.
func (b *FileBackend) mergeAndWrite(values map[string][]byte) (map[string][]byte, error) {
	current, err := b.read()
	if err != nil {
		return nil, err
	}
	mergeValues(current, values)
	changed := diffValues(b.lastSeen, current)

	doc := make(map[string]json.RawMessage, len(current))
	for k, v := range current {
		doc[k] = json.RawMessage(v)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode settings file: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("write settings file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return nil, fmt.Errorf("write settings file: %w", err)
	}
	b.lastSeen = current
	return changed, nil
}
