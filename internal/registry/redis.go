package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "memgate:ns:"

// RedisRegistry stores namespace records in Redis so several gateway
// instances can share one namespace universe.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry connects to Redis and verifies the connection.
func NewRedisRegistry(ctx context.Context, addr, password string, db int) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis registry at %s: %w", addr, err)
	}
	return &RedisRegistry{client: client}, nil
}

func (r *RedisRegistry) Exists(ctx context.Context, namespace string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+namespace).Result()
	if err != nil {
		return false, fmt.Errorf("namespace exists check: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Ensure(ctx context.Context, namespace string) error {
	if err := r.client.Set(ctx, keyPrefix+namespace, "1", 0).Err(); err != nil {
		return fmt.Errorf("namespace ensure: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Delete(ctx context.Context, namespace string) error {
	if err := r.client.Del(ctx, keyPrefix+namespace).Err(); err != nil {
		return fmt.Errorf("namespace delete: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
