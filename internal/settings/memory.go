package settings

import (
	"context"
	"sync"
)

// MemoryBackend keeps values in process memory. Update is serialized by a
// mutex, so it is linearizable within the process only.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string][]byte
	feed   feed
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(_ context.Context, keys []string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return pick(b.values, keys), nil
}

func (b *MemoryBackend) Save(_ context.Context, values map[string][]byte) error {
	b.mu.Lock()
	mergeValues(b.values, values)
	b.mu.Unlock()

	b.feed.publish(values)
	return nil
}

func (b *MemoryBackend) Update(_ context.Context, keys []string, fn func(map[string][]byte) (map[string][]byte, error)) error {
	b.mu.Lock()
	next, err := fn(pick(b.values, keys))
	if err != nil {
		b.mu.Unlock()
		return err
	}
	mergeValues(b.values, next)
	b.mu.Unlock()

	b.feed.publish(next)
	return nil
}

func (b *MemoryBackend) Watch(ctx context.Context) (<-chan map[string][]byte, error) {
	return b.feed.subscribe(ctx), nil
}

func (b *MemoryBackend) Close() error {
	b.feed.close()
	return nil
}
