// internal/storage/backend.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("storage: key not found")

// Backend 按命名空间存取 JSON 数据块
//
// Get 在键不存在时返回 ErrNotFound；Delete 删除不存在的键不视为错误；
// List 返回命名空间下全部数据块，顺序不保证
type Backend interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, data []byte) error
	List(ctx context.Context, namespace string) ([][]byte, error)
	Delete(ctx context.Context, namespace, key string) error
	Close() error
}

// 后端类型
const (
	KindFile     = "file"
	KindRedis    = "redis"
	KindPostgres = "postgres"
)

// Options 打开后端所需参数
type Options struct {
	Kind        string
	DataDir     string
	RedisURL    string
	DatabaseURL string
}

// Open 按类型打开存储后端
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case "", KindFile:
		return NewFileBackend(opts.DataDir)
	case KindRedis:
		return NewRedisBackend(ctx, opts.RedisURL)
	case KindPostgres:
		return NewPostgresBackend(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Kind)
	}
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateKey 校验命名空间和键，防止路径穿越
func ValidateKey(parts ...string) error {
	for _, p := range parts {
		if !keyPattern.MatchString(p) {
			return fmt.Errorf("invalid storage key %q", p)
		}
	}
	return nil
}
