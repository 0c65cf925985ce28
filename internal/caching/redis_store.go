package caching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "clinichub:tenant:"

// RedisStore shares tenant resolution results between instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(name string) string {
	return redisKeyPrefix + name
}

func (r *RedisStore) Get(ctx context.Context, name string) (bool, error) {
	val, err := r.client.Get(ctx, redisKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return false, ErrCacheMiss
	}
	if err != nil {
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}
	return val == "1", nil
}

func (r *RedisStore) Set(ctx context.Context, name string, exists bool, ttl time.Duration) error {
	val := "0"
	if exists {
		val = "1"
	}
	if err := r.client.Set(ctx, redisKey(name), val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, redisKey(name)).Err(); err != nil {
		return fmt.Errorf("failed to delete from cache: %w", err)
	}
	return nil
}
