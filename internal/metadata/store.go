// Package metadata 记录每个缓存键最近一次成功写入网络结果的时间戳。
//
// Store 门面懒加载底层连接：并发的首次调用共享同一次打开；任何连接或事务错误都会
// 记录日志、关闭并清空已缓存的连接，下一次调用重新打开。读写失败从不影响响应链路。
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/offline-hub/internal/metrics"
)

// ErrUnavailable 表示元数据后端无法打开。
var ErrUnavailable = errors.New("metadata store unavailable")

// Conn 是一条已打开的后端连接。时间戳以毫秒精度持久化。
type Conn interface {
	Put(ctx context.Context, key string, ts time.Time) error
	Get(ctx context.Context, key string) (time.Time, bool, error)
	// DeleteExpiredBefore 原子地找出并删除 timestamp <= threshold 的记录，返回被删除的键。
	DeleteExpiredBefore(ctx context.Context, threshold time.Time) ([]string, error)
	Close() error
}

// Opener 打开一条新的后端连接。
type Opener func(ctx context.Context) (Conn, error)

// Store 是线程安全的元数据门面。
type Store struct {
	open   Opener
	logger *logrus.Logger

	group singleflight.Group

	mu      sync.Mutex
	conn    Conn
	ready   bool
	onReady []func()
}

// New 创建门面，不会立即打开连接。
func New(open Opener, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{open: open, logger: logger}
}

// OnReady 注册在首次成功打开连接后执行一次的回调；若已就绪则立即异步执行。
func (s *Store) OnReady(fn func()) {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		go fn()
		return
	}
	s.onReady = append(s.onReady, fn)
	s.mu.Unlock()
}

// Open 主动打开连接，启动阶段用于尽早触发 OnReady。
func (s *Store) Open(ctx context.Context) error {
	_, err := s.connection(ctx)
	return err
}

// Put 记录 key 的写入时间。错误已被记录，调用方可以忽略返回值。
func (s *Store) Put(ctx context.Context, key string, ts time.Time) error {
	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}
	if err := conn.Put(ctx, key, ts); err != nil {
		s.fail(conn, "put", key, err)
		return fmt.Errorf("put timestamp: %w", err)
	}
	return nil
}

// Get 读取 key 的时间戳；任何错误都按“不存在”处理。
func (s *Store) Get(ctx context.Context, key string) (time.Time, bool) {
	conn, err := s.connection(ctx)
	if err != nil {
		return time.Time{}, false
	}
	ts, ok, err := conn.Get(ctx, key)
	if err != nil {
		s.fail(conn, "get", key, err)
		return time.Time{}, false
	}
	return ts, ok
}

// DeleteExpiredBefore 删除 timestamp <= threshold 的全部记录并返回其键。
func (s *Store) DeleteExpiredBefore(ctx context.Context, threshold time.Time) ([]string, error) {
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := conn.DeleteExpiredBefore(ctx, threshold)
	if err != nil {
		s.fail(conn, "delete_expired", "", err)
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	return keys, nil
}

// Close 关闭当前连接（若有）。之后的调用会重新打开。
func (s *Store) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Store) connection(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	// 打开过程不随单个调用方取消，避免一个断开的请求拖垮所有共享者。
	openCtx := context.WithoutCancel(ctx)
	value, err, _ := s.group.Do("open", func() (any, error) {
		s.mu.Lock()
		if s.conn != nil {
			conn := s.conn
			s.mu.Unlock()
			return conn, nil
		}
		s.mu.Unlock()

		conn, err := s.open(openCtx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.conn = conn
		var callbacks []func()
		if !s.ready {
			s.ready = true
			callbacks = s.onReady
			s.onReady = nil
		}
		s.mu.Unlock()

		for _, fn := range callbacks {
			go fn()
		}
		return conn, nil
	})
	if err != nil {
		metrics.MetadataErrors.WithLabelValues("open").Inc()
		s.logger.WithFields(logrus.Fields{
			"action": "metadata_open_failed",
		}).WithError(err).Warn("metadata_open_failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value.(Conn), nil
}

// fail 记录错误并丢弃出错的连接。
func (s *Store) fail(conn Conn, operation, key string, err error) {
	metrics.MetadataErrors.WithLabelValues(operation).Inc()
	fields := logrus.Fields{
		"action":    "metadata_" + operation + "_failed",
		"operation": operation,
	}
	if key != "" {
		fields["url"] = key
	}
	s.logger.WithFields(fields).WithError(err).Warn("metadata_operation_failed")

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	if closeErr := conn.Close(); closeErr != nil {
		s.logger.WithFields(logrus.Fields{"action": "metadata_close_failed"}).WithError(closeErr).Debug("metadata_close_failed")
	}
}
