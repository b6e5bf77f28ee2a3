package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps the encoded entry under a single Redis key.
type redisStore struct {
	client *redis.Client
	key    string
}

func newRedisStore(ctx context.Context, cfg RedisConfig, key string, timeout time.Duration) (*redisStore, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisStore{client: client, key: key}, nil
}

func (r *redisStore) Name() string {
	return BackendRedis
}

func (r *redisStore) Get(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errNotFound
		}
		return nil, err
	}
	return data, nil
}

func (r *redisStore) Set(ctx context.Context, raw []byte) error {
	return r.client.Set(ctx, r.key, raw, 0).Err()
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
