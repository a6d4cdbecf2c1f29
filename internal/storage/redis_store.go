// internal/storage/redis_store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend 每个命名空间对应一个 hash，键为 hash 字段
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend 连接 Redis 并验证可用性
func NewRedisBackend(ctx context.Context, redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBackendWithClient(client), nil
}

// NewRedisBackendWithClient 使用已有客户端
func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "storyboarder:"}
}

func (s *RedisBackend) hashKey(namespace string) string {
	return s.prefix + namespace
}

// Get 读取字段
func (s *RedisBackend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ValidateKey(namespace, key); err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, s.hashKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return data, nil
}

// Put 写入字段
func (s *RedisBackend) Put(ctx context.Context, namespace, key string, data []byte) error {
	if err := ValidateKey(namespace, key); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.hashKey(namespace), key, data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// List 读取整个 hash，按字段名排序
func (s *RedisBackend) List(ctx context.Context, namespace string) ([][]byte, error) {
	if err := ValidateKey(namespace); err != nil {
		return nil, err
	}
	all, err := s.client.HGetAll(ctx, s.hashKey(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	blobs := make([][]byte, 0, len(keys))
	for _, k := range keys {
		blobs = append(blobs, []byte(all[k]))
	}
	return blobs, nil
}

// Delete 删除字段
func (s *RedisBackend) Delete(ctx context.Context, namespace, key string) error {
	if err := ValidateKey(namespace, key); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, s.hashKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (s *RedisBackend) Close() error {
	return s.client.Close()
}
