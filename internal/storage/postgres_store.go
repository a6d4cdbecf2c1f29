// internal/storage/postgres_store.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createBlobsTable = `
CREATE TABLE IF NOT EXISTS storyboard_blobs (
	namespace  TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`

// PostgresBackend 使用单表保存 JSON 数据块
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend 创建连接池并确保表存在
func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 验证连接
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createBlobsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

// Get 读取数据块
func (s *PostgresBackend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ValidateKey(namespace, key); err != nil {
		return nil, err
	}
	var data string
	err := s.pool.QueryRow(ctx,
		`SELECT data::text FROM storyboard_blobs WHERE namespace = $1 AND key = $2`,
		namespace, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select blob: %w", err)
	}
	return []byte(data), nil
}

// Put 插入或覆盖数据块
func (s *PostgresBackend) Put(ctx context.Context, namespace, key string, data []byte) error {
	if err := ValidateKey(namespace, key); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO storyboard_blobs (namespace, key, data, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (namespace, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		namespace, key, string(data))
	if err != nil {
		return fmt.Errorf("upsert blob: %w", err)
	}
	return nil
}

// List 按键排序返回命名空间下全部数据块
func (s *PostgresBackend) List(ctx context.Context, namespace string) ([][]byte, error) {
	if err := ValidateKey(namespace); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT data::text FROM storyboard_blobs WHERE namespace = $1 ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer rows.Close()

	var blobs [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		blobs = append(blobs, []byte(data))
	}
	return blobs, rows.Err()
}

// Delete 删除数据块
func (s *PostgresBackend) Delete(ctx context.Context, namespace, key string) error {
	if err := ValidateKey(namespace, key); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM storyboard_blobs WHERE namespace = $1 AND key = $2`, namespace, key); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Close 关闭连接池
func (s *PostgresBackend) Close() error {
	s.pool.Close()
	return nil
}
