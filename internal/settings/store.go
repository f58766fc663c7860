package settings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrConflict is returned by Update when concurrent writers kept invalidating
// the read and the retry budget ran out.
var ErrConflict = errors.New("settings changed concurrently")

// maxUpdateRetries bounds optimistic retries in backends that need them.
const maxUpdateRetries = 8

// Backend is the raw key/value port behind a Store. Values are JSON documents.
type Backend interface {
	// Load returns the stored values of keys. Missing keys are absent.
	Load(ctx context.Context, keys []string) (map[string][]byte, error)
	// Save writes values.
	Save(ctx context.Context, values map[string][]byte) error
	// Update reads keys, passes them to fn and commits what fn returns
	// atomically with respect to other Update calls. fn may run more than
	// once and must not have side effects. Returning no values skips the write.
	Update(ctx context.Context, keys []string, fn func(cur map[string][]byte) (map[string][]byte, error)) error
	// Watch delivers values changed by any writer, including this process,
	// until ctx is done.
	Watch(ctx context.Context) (<-chan map[string][]byte, error)
	Close() error
}

// Change is one notification from the change feed.
type Change struct {
	Keys  []string
	Delta Patch
}

// Store is the typed settings store used by the gate and every surface.
type Store struct {
	backend Backend
	log     *zap.Logger
}

// NewStore wraps a backend. A nil logger discards output.
func NewStore(backend Backend, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, log: log}
}

// Get reads and decodes the full snapshot.
func (s *Store) Get(ctx context.Context) (Snapshot, error) {
	raw, err := s.backend.Load(ctx, AllKeys)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settings: %w", err)
	}
	snap, err := Decode(raw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settings: %w", err)
	}
	return snap, nil
}

// Set writes the fields present in p.
func (s *Store) Set(ctx context.Context, p Patch) error {
	values, err := p.Encode()
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.backend.Save(ctx, values); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Update performs an atomic read-modify-write. fn receives a fresh snapshot
// and returns the patch to commit, or nil to write nothing. fn may be called
// more than once and must be free of side effects.
func (s *Store) Update(ctx context.Context, fn func(Snapshot) (*Patch, error)) error {
	err := s.backend.Update(ctx, AllKeys, func(cur map[string][]byte) (map[string][]byte, error) {
		snap, err := Decode(cur)
		if err != nil {
			return nil, err
		}
		p, err := fn(snap)
		if err != nil || p == nil {
			return nil, err
		}
		return p.Encode()
	})
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// Subscribe returns the typed change feed. The channel closes when ctx is
// done or the store is closed.
func (s *Store) Subscribe(ctx context.Context) (<-chan Change, error) {
	raw, err := s.backend.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch settings: %w", err)
	}

	out := make(chan Change, feedBuffer)
	go func() {
		defer close(out)
		for values := range raw {
			delta, err := DecodePatch(values)
			if err != nil {
				s.log.Warn("dropping undecodable settings change", zap.Error(err))
				continue
			}
			change := Change{Keys: delta.Keys(), Delta: delta}
			if len(change.Keys) == 0 {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
