package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config selects and configures a sink backend.
type Config struct {
	// Kind is one of KindFile, KindRedis, KindS3, KindPostgres.
	Kind string

	// Dir is the output directory of the file sink.
	Dir string

	// Redis is reused by the redis sink when set; otherwise RedisURL is dialled.
	Redis     *redis.Client
	RedisURL  string
	RedisHash string

	S3 S3Config

	PostgresURL string
}

// Open creates the configured sink and checks that its backend is reachable.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Kind {
	case "", KindFile:
		return NewFileSink(cfg.Dir)

	case KindRedis:
		client, owned := cfg.Redis, false
		if client == nil {
			if cfg.RedisURL == "" {
				return nil, fmt.Errorf("redis sink requires a redis url")
			}
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("parse redis url: %w", err)
			}
			client, owned = redis.NewClient(opts), true
		}
		if err := client.Ping(ctx).Err(); err != nil {
			if owned {
				client.Close()
			}
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		s := NewRedisSink(client, cfg.RedisHash)
		s.owned = owned
		return s, nil

	case KindS3:
		return NewS3Sink(ctx, cfg.S3)

	case KindPostgres:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres sink requires a database url")
		}
		return NewPostgresSink(ctx, cfg.PostgresURL)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, cfg.Kind)
	}
}
