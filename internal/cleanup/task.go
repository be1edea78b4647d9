// Package cleanup 删除超过保留期的缓存条目及其时间戳。
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/offline-hub/internal/metrics"
)

// DefaultExpiryWindow 是缓存条目的保留期。
const DefaultExpiryWindow = 13 * 24 * time.Hour

const deleteConcurrency = 8

// Expirer 由 metadata.Store 实现。
type Expirer interface {
	DeleteExpiredBefore(ctx context.Context, threshold time.Time) ([]string, error)
}

// Deleter 由 cache.Store 实现。
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Report 汇总一次清理。
type Report struct {
	Threshold time.Time `json:"threshold"`
	Deleted   int       `json:"deleted"`
	Failed    int       `json:"failed"`
}

// Task 执行单次清理，不在同一次运行内重试。
type Task struct {
	meta   Expirer
	cache  Deleter
	window time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

// NewTask 构造清理任务，window <= 0 时使用 13 天。
func NewTask(meta Expirer, cache Deleter, window time.Duration, logger *logrus.Logger) *Task {
	if window <= 0 {
		window = DefaultExpiryWindow
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Task{meta: meta, cache: cache, window: window, logger: logger, now: time.Now}
}

// SetClock 替换时间源，仅用于测试。
func (t *Task) SetClock(now func() time.Time) {
	t.now = now
}

// Run 删除 timestamp <= now-window 的记录及对应缓存。错误只记录日志。
func (t *Task) Run(ctx context.Context) Report {
	threshold := t.now().Add(-t.window)
	report := Report{Threshold: threshold}

	keys, err := t.meta.DeleteExpiredBefore(ctx, threshold)
	if err != nil {
		metrics.CleanupRuns.WithLabelValues("failed").Inc()
		t.logger.WithFields(logrus.Fields{
			"action":    "cleanup_failed",
			"threshold": threshold,
		}).WithError(err).Warn("cleanup_failed")
		return report
	}

	var (
		mu     sync.Mutex
		result *multierror.Error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(deleteConcurrency)
	for _, key := range keys {
		group.Go(func() error {
			if err := t.cache.Delete(groupCtx, key); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("delete %s: %w", key, err))
				report.Failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Deleted++
			mu.Unlock()
			return nil
		})
	}
	group.Wait()

	metrics.CleanupDeleted.Add(float64(report.Deleted))
	fields := logrus.Fields{
		"action":    "cleanup_complete",
		"threshold": threshold,
		"expired":   len(keys),
		"deleted":   report.Deleted,
		"failed":    report.Failed,
	}
	if err := result.ErrorOrNil(); err != nil {
		metrics.CleanupRuns.WithLabelValues("partial").Inc()
		t.logger.WithFields(fields).WithError(err).Warn("cleanup_partial")
		return report
	}
	metrics.CleanupRuns.WithLabelValues("ok").Inc()
	t.logger.WithFields(fields).Info("cleanup_complete")
	return report
}
