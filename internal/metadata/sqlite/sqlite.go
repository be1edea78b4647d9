// Package sqlite 是元数据存储的默认持久化后端，基于纯 Go 的 modernc.org/sqlite。
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/any-hub/offline-hub/internal/metadata"
)

var _ metadata.Conn = (*DB)(nil)

// DB 持有一个单连接的 sqlite 句柄，所有写入串行执行。
type DB struct {
	db *sql.DB
}

// New 打开（必要时创建）path 处的数据库并执行迁移。
func New(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{db: db}, nil
}

// Opener 返回供 metadata.Store 使用的懒加载函数。
func Opener(path string) metadata.Opener {
	return func(ctx context.Context) (metadata.Conn, error) {
		return New(ctx, path)
	}
}

func (d *DB) Put(ctx context.Context, key string, ts time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO timestamps (url, timestamp) VALUES (?, ?)
		 ON CONFLICT(url) DO UPDATE SET timestamp = excluded.timestamp`,
		key, ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert timestamp: %w", err)
	}
	return nil
}

func (d *DB) Get(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	err := d.db.QueryRowContext(ctx, `SELECT timestamp FROM timestamps WHERE url = ?`, key).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select timestamp: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

// DeleteExpiredBefore 在同一事务内查询并删除过期记录。
func (d *DB) DeleteExpiredBefore(ctx context.Context, threshold time.Time) ([]string, error) {
	var keys []string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT url FROM timestamps WHERE timestamp <= ? ORDER BY timestamp`,
			threshold.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("select expired: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return fmt.Errorf("scan expired: %w", err)
			}
			keys = append(keys, key)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM timestamps WHERE timestamp <= ?`, threshold.UnixMilli()); err != nil {
			return fmt.Errorf("delete expired: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
