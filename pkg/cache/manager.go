package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores catalog responses in Redis.
type Manager struct {
	redis  *redis.Client
	prefix string
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace separates caches of different catalogs (e.g. per API host)
// sharing one Redis.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.prefix = KeyPrefix + ":" + ns
		}
	}
}

// NewManager creates a cache manager with Redis backend.
func NewManager(redisClient *redis.Client, opts ...Option) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	m := &Manager{redis: redisClient, prefix: KeyPrefix}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RedisKey returns the full Redis key of k.
func (m *Manager) RedisKey(k Key) string {
	return m.prefix + ":" + k.String()
}

// Get returns the entry for key or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, m.RedisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			lookupsTotal.WithLabelValues(key.Kind(), "miss").Inc()
			return nil, ErrCacheMiss
		}
		lookupsTotal.WithLabelValues(key.Kind(), "error").Inc()
		errorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || len(entry.Payload) == 0 {
		lookupsTotal.WithLabelValues(key.Kind(), "error").Inc()
		errorsTotal.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntry, m.RedisKey(key))
	}

	lookupsTotal.WithLabelValues(key.Kind(), "hit").Inc()
	return &entry, nil
}

// Set stores entry under key for ttl (DefaultTTL when ttl <= 0).
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error {
	if entry == nil || len(entry.Payload) == 0 {
		return fmt.Errorf("cache entry must carry a payload")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	data, err := json.Marshal(entry)
	if err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, m.RedisKey(key), data, ttl).Err(); err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	bytesWritten.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, m.RedisKey(key)).Err(); err != nil {
		errorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Purge deletes every entry under the manager's prefix and returns how many
// keys were removed.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	removed := 0
	iter := m.redis.Scan(ctx, 0, m.prefix+":*", 500).Iterator()

	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.redis.Del(ctx, batch...).Result()
		if err != nil {
			errorsTotal.WithLabelValues("purge").Inc()
			return fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		errorsTotal.WithLabelValues("purge").Inc()
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, flush()
}
