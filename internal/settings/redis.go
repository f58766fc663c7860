package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces keys when no prefix is configured.
const DefaultRedisPrefix = "tradeguard:"

// RedisBackend stores each key as a redis string. Update uses WATCH/MULTI,
// so it is linearizable across every process sharing the server. Changes are
// announced on a pub/sub channel that all processes, this one included,
// subscribe to.
type RedisBackend struct {
	client  *redis.Client
	prefix  string
	channel string
	log     *zap.Logger

	feed      feed
	watchOnce sync.Once
	watchErr  error
	pubsub    *redis.PubSub
}

// NewRedisBackend wraps a client. An empty prefix uses DefaultRedisPrefix.
func NewRedisBackend(client *redis.Client, prefix string, log *zap.Logger) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBackend{
		client:  client,
		prefix:  prefix,
		channel: prefix + "changes",
		log:     log,
	}
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + k
}

func (b *RedisBackend) Load(ctx context.Context, keys []string) (map[string][]byte, error) {
	return b.mget(ctx, b.client, keys)
}

func (b *RedisBackend) Save(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, b.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	b.announce(ctx, values)
	return nil
}

func (b *RedisBackend) Update(ctx context.Context, keys []string, fn func(map[string][]byte) (map[string][]byte, error)) error {
	watched := make([]string, len(keys))
	for i, k := range keys {
		watched[i] = b.key(k)
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		var committed map[string][]byte
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := b.mget(ctx, tx, keys)
			if err != nil {
				return err
			}
			next, err := fn(cur)
			if err != nil || len(next) == 0 {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for k, v := range next {
					pipe.Set(ctx, b.key(k), v, 0)
				}
				return nil
			})
			if err == nil {
				committed = next
			}
			return err
		}, watched...)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		b.announce(ctx, committed)
		return nil
	}
	return ErrConflict
}

// Watch subscribes to the change channel on first use.
func (b *RedisBackend) Watch(ctx context.Context) (<-chan map[string][]byte, error) {
	b.watchOnce.Do(func() {
		ps := b.client.Subscribe(context.Background(), b.channel)
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			b.watchErr = fmt.Errorf("redis subscribe: %w", err)
			return
		}
		b.pubsub = ps
		go b.run(ps)
	})
	if b.watchErr != nil {
		return nil, b.watchErr
	}
	return b.feed.subscribe(ctx), nil
}

func (b *RedisBackend) Close() error {
	if b.pubsub != nil {
		b.pubsub.Close()
	}
	b.feed.close()
	return b.client.Close()
}

func (b *RedisBackend) run(ps *redis.PubSub) {
	for msg := range ps.Channel() {
		values, err := decodeAnnouncement([]byte(msg.Payload))
		if err != nil {
			b.log.Warn("dropping malformed settings announcement", zap.Error(err))
			continue
		}
		b.feed.publish(values)
	}
}

func (b *RedisBackend) announce(ctx context.Context, values map[string][]byte) {
	if len(values) == 0 {
		return
	}
	payload, err := encodeAnnouncement(values)
	if err != nil {
		b.log.Warn("encode settings announcement", zap.Error(err))
		return
	}
	// The write is already committed; a lost announcement only delays
	// other processes until their next reconcile.
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn("publish settings announcement", zap.Error(err))
	}
}

// mgetter is satisfied by both *redis.Client and *redis.Tx.
type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func (b *RedisBackend) mget(ctx context.Context, c mgetter, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	vals, err := c.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

// encodeAnnouncement packs raw values into one pub/sub payload. Values are
// JSON already, so they are embedded as-is.
func encodeAnnouncement(values map[string][]byte) ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		doc[k] = json.RawMessage(v)
	}
	return json.Marshal(doc)
}

func decodeAnnouncement(payload []byte) (map[string][]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	values := make(map[string][]byte, len(doc))
	for k, v := range doc {
		if !IsKnownKey(k) {
			continue
		}
		values[k] = []byte(v)
	}
	return values, nil
}
