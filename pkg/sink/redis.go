package sink

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisHash is the hash holding records keyed by id.
const DefaultRedisHash = "harvest:records"

// RedisSink stores records as fields of one Redis hash.
type RedisSink struct {
	redis *redis.Client
	key   string
	owned bool
}

// NewRedisSink creates a sink on redisClient. An empty key selects
// DefaultRedisHash.
func NewRedisSink(redisClient *redis.Client, key string) *RedisSink {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisHash
	}
	return &RedisSink{redis: redisClient, key: key}
}

// Exists checks the hash field for id.
func (s *RedisSink) Exists(ctx context.Context, id catalog.ID) (bool, error) {
	ok, err := s.redis.HExists(ctx, s.key, id.String()).Result()
	if err != nil {
		return false, recordError(KindRedis, "exists", err)
	}
	return ok, nil
}

// Save sets the hash field for id.
func (s *RedisSink) Save(ctx context.Context, id catalog.ID, payload json.RawMessage) error {
	if err := s.redis.HSet(ctx, s.key, id.String(), []byte(payload)).Err(); err != nil {
		return recordError(KindRedis, "save", err)
	}
	savesTotal.WithLabelValues(KindRedis).Inc()
	return nil
}

// Load returns the stored payload for id, or redis.Nil if absent.
func (s *RedisSink) Load(ctx context.Context, id catalog.ID) (json.RawMessage, error) {
	data, err := s.redis.HGet(ctx, s.key, id.String()).Bytes()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// List returns every id stored in the hash.
func (s *RedisSink) List(ctx context.Context) (catalog.IDSet, error) {
	keys, err := s.redis.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, recordError(KindRedis, "list", err)
	}

	ids := catalog.NewIDSet()
	for _, k := range keys {
		n, err := strconv.ParseInt(k, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		ids.Add(catalog.ID(n))
	}
	return ids, nil
}

// Close closes the client if the sink created it.
func (s *RedisSink) Close() error {
	if s.owned {
		return s.redis.Close()
	}
	return nil
}
