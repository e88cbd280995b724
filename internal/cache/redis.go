package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanCount = 500

// RedisStore is a Store backed by a Redis server.
type RedisStore struct {
	cli *redis.Client
}

// NewRedisStore connects lazily; an unreachable server surfaces as errors
// on individual calls, which the Layer turns into misses.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{cli: redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})}
}

// Client exposes the underlying client for admin tooling.
func (r *RedisStore) Client() *redis.Client { return r.cli }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.cli.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.cli.Set(ctx, key, val, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.cli.Del(ctx, keys...).Err()
}

// DeletePattern walks the keyspace with SCAN MATCH and deletes each page.
func (r *RedisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	n := 0
	for {
		keys, next, err := r.cli.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return n, err
		}
		if len(keys) > 0 {
			removed, err := r.cli.Del(ctx, keys...).Result()
			if err != nil {
				return n, err
			}
			n += int(removed)
		}
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.cli.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.cli.Close() }
