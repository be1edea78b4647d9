// Package strategy 提供两种缓存策略：缓存优先（后台节流刷新）与网络优先（缓存/离线页兜底）。
package strategy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/resource"
)

const (
	NameCacheFirst   = "cache_first"
	NameNetworkFirst = "network_first"
)

// DefaultThrottle 是同一资源两次后台刷新之间的最小间隔。
const DefaultThrottle = 24 * time.Hour

// Pipeline 由 fetch.Pipeline 实现。
type Pipeline interface {
	FetchAndCache(ctx context.Context, req *resource.Request) (*resource.Response, error)
}

// Timestamps 读取资源最近一次写入时间，由 metadata.Store 实现。
type Timestamps interface {
	Get(ctx context.Context, key string) (time.Time, bool)
}

// Notifier 由 notify.Notifier 实现。
type Notifier interface {
	Snapshot(ctx context.Context, req *resource.Request) *resource.Response
	Compare(ctx context.Context, req *resource.Request, previous, fresh *resource.Response) bool
}

// Options 配置策略层。
type Options struct {
	Throttle time.Duration
	// OfflinePage 是离线页的缓存键（完整 URL）。
	OfflinePage string
}

// Strategies 持有策略依赖，所有方法可被并发调用。
type Strategies struct {
	pipeline Pipeline
	cache    cache.Store
	meta     Timestamps
	notifier Notifier
	logger   *logrus.Logger

	throttle    time.Duration
	offlinePage string
	now         func() time.Time

	background sync.WaitGroup
}

// New 构造策略层。
func New(pipeline Pipeline, store cache.Store, meta Timestamps, notifier Notifier, opts Options, logger *logrus.Logger) *Strategies {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	throttle := opts.Throttle
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	return &Strategies{
		pipeline:    pipeline,
		cache:       store,
		meta:        meta,
		notifier:    notifier,
		logger:      logger,
		throttle:    throttle,
		offlinePage: opts.OfflinePage,
		now:         time.Now,
	}
}

// SetClock 替换时间源，仅用于测试。
func (s *Strategies) SetClock(now func() time.Time) {
	s.now = now
}

// CacheFirst 命中缓存时立即返回，并在超过节流窗口时后台刷新；未命中时阻塞抓取。
func (s *Strategies) CacheFirst(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	cached, err := s.match(ctx, req)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(NameCacheFirst, "miss").Inc()
		return s.pipeline.FetchAndCache(ctx, req)
	}
	metrics.CacheLookups.WithLabelValues(NameCacheFirst, "hit").Inc()

	ts, ok := s.meta.Get(ctx, req.Key())
	if ok && s.now().Sub(ts) < s.throttle {
		metrics.BackgroundRefresh.WithLabelValues("throttled").Inc()
		return cached, nil
	}

	s.refresh(ctx, req.Clone())
	return cached, nil
}

// refresh 在独立 goroutine 中刷新缓存，结果只记录日志，不影响调用方。
func (s *Strategies) refresh(ctx context.Context, req *resource.Request) {
	metrics.BackgroundRefresh.WithLabelValues("started").Inc()
	detached := resource.WithRetries(context.WithoutCancel(ctx))

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		resp, err := s.pipeline.FetchAndCache(detached, req)
		fields := logging.StrategyFields("background_refresh", NameCacheFirst, req.Key())
		switch {
		case err != nil:
			metrics.BackgroundRefresh.WithLabelValues("failed").Inc()
			s.logger.WithFields(fields).WithError(err).Debug("background_refresh_failed")
		case !resp.OK():
			metrics.BackgroundRefresh.WithLabelValues("failed").Inc()
			fields["status"] = resp.Status
			s.logger.WithFields(fields).Debug("background_refresh_not_ok")
		default:
			metrics.BackgroundRefresh.WithLabelValues("ok").Inc()
			s.logger.WithFields(fields).Debug("background_refresh_complete")
		}
	}()
}

// NetworkFirst 优先网络；失败时依次回退到缓存、离线页（仅导航请求），最后返回原始错误。
func (s *Strategies) NetworkFirst(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	var previous *resource.Response
	if s.notifier != nil && req.IsNavigation() {
		previous = s.notifier.Snapshot(ctx, req)
	}

	resp, fetchErr := s.pipeline.FetchAndCache(ctx, req.Clone())
	if fetchErr == nil {
		if previous != nil {
			s.revalidate(ctx, req, previous, resp.Clone())
		}
		return resp, nil
	}

	s.logger.WithFields(logging.StrategyFields("network_fallback", NameNetworkFirst, req.Key())).
		WithError(fetchErr).Warn("network_fetch_failed")

	if cached, err := s.match(ctx, req); err == nil {
		metrics.CacheLookups.WithLabelValues(NameNetworkFirst, "fallback_hit").Inc()
		return cached, nil
	}

	if req.IsNavigation() {
		if offline, err := s.Offline(ctx); err == nil {
			metrics.CacheLookups.WithLabelValues(NameNetworkFirst, "offline").Inc()
			return offline, nil
		}
	}
	metrics.CacheLookups.WithLabelValues(NameNetworkFirst, "miss").Inc()
	return nil, fetchErr
}

func (s *Strategies) revalidate(ctx context.Context, req *resource.Request, previous, fresh *resource.Response) {
	detached := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.notifier.Compare(detached, req, previous, fresh)
	}()
}

// Offline 返回预先写入缓存的离线页。
func (s *Strategies) Offline(ctx context.Context) (*resource.Response, error) {
	if s.offlinePage == "" {
		return nil, cache.ErrNotFound
	}
	return s.cache.MatchKey(ctx, s.offlinePage)
}

// Wait 等待所有后台任务结束，仅用于测试与优雅退出。
func (s *Strategies) Wait() {
	s.background.Wait()
}

func (s *Strategies) match(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	cached, err := s.cache.Match(ctx, req, cache.MatchOptions{IgnoreVary: true})
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		s.logger.WithFields(logrus.Fields{
			"action": "cache_match_failed",
			"url":    req.Key(),
		}).WithError(err).Warn("cache_match_failed")
	}
	return cached, err
}
