package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MinInterval 是周期清理的最小间隔。
const MinInterval = 24 * time.Hour

// Runner 由 Task 实现。
type Runner interface {
	Run(ctx context.Context) Report
}

// Scheduler 在存储就绪时、按固定周期以及收到匹配标签时触发清理，多次运行互斥。
type Scheduler struct {
	task     Runner
	tag      string
	interval time.Duration
	logger   *logrus.Logger

	mu sync.Mutex
}

// Tag 返回 cacheName 对应的周期任务标签。
func Tag(cacheName string) string {
	return cacheName + "-cleanup"
}

// NewScheduler 构造调度器，interval 小于 24h 时按 24h 处理。
func NewScheduler(task Runner, cacheName string, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if interval < MinInterval {
		interval = MinInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{task: task, tag: Tag(cacheName), interval: interval, logger: logger}
}

// Tag 返回调度器接受的标签。
func (s *Scheduler) Tag() string {
	return s.tag
}

// RunNow 立即执行一次清理。
func (s *Scheduler) RunNow(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.Run(ctx)
}

// Trigger 仅在标签匹配时执行，返回是否已执行。
func (s *Scheduler) Trigger(ctx context.Context, tag string) (Report, bool) {
	if tag != s.tag {
		s.logger.WithFields(logrus.Fields{
			"action": "cleanup_trigger_ignored",
			"tag":    tag,
		}).Debug("cleanup_trigger_ignored")
		return Report{}, false
	}
	return s.RunNow(ctx), true
}

// Start 按周期执行清理，直到 ctx 结束。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunNow(ctx)
		}
	}
}
