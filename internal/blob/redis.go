package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the payload under one key. SET replaces the value atomically.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects using a redis:// or rediss:// URL and pings the server.
func NewRedis(ctx context.Context, url, key string) (*Redis, error) {
	if url == "" {
		return nil, errors.New("blob: empty redis connection URL")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("blob: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("blob: ping redis: %w", err)
	}
	return NewRedisWithClient(client, key), nil
}

func NewRedisWithClient(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blob: redis get %s: %w", r.key, err)
	}
	return data, nil
}

func (r *Redis) Save(ctx context.Context, payload []byte) error {
	if err := r.client.Set(ctx, r.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("blob: redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
