package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/resource"
)

// Timestamps 是管线写入的元数据接口，由 metadata.Store 实现。
type Timestamps interface {
	Put(ctx context.Context, key string, ts time.Time) error
}

// Pipeline 抓取网络响应，并在可用时写入缓存与时间戳。
type Pipeline struct {
	fetcher Fetcher
	cache   cache.Store
	meta    Timestamps
	origin  *url.URL
	logger  *logrus.Logger
	now     func() time.Time
}

// NewPipeline 构造管线。origin 用于判定 HEAD 预检是否需要发起（仅跨域）。
func NewPipeline(fetcher Fetcher, store cache.Store, meta Timestamps, origin *url.URL, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{
		fetcher: fetcher,
		cache:   store,
		meta:    meta,
		origin:  origin,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock 替换时间源，测试中用于固定时间戳。
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// FetchAndCache 返回可直接交给调用方的响应；可用响应会被持久化。
// 非 ok 的响应照常返回（err 为 nil）但不缓存；opaque 响应返回但不缓存。
func (p *Pipeline) FetchAndCache(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil || resp.Opaque() || !resp.OK() {
		resp, err = p.retry(ctx, req, resp, err)
		if err != nil {
			metrics.PipelineOutcomes.WithLabelValues("error").Inc()
			p.logger.WithFields(logrus.Fields{
				"action": "fetch_failed",
				"url":    req.Key(),
			}).WithError(err).Warn("fetch_failed")
			return nil, err
		}
	}

	if resp.Opaque() {
		metrics.PipelineOutcomes.WithLabelValues("opaque").Inc()
		return resp, nil
	}
	if !resp.OK() {
		metrics.PipelineOutcomes.WithLabelValues("not_ok").Inc()
		p.logger.WithFields(logrus.Fields{
			"action": "fetch_not_cached",
			"url":    req.Key(),
			"status": resp.Status,
		}).Warn("fetch_not_cached")
		return resp, nil
	}
	if !cacheable(req) {
		return resp, nil
	}

	now := p.now()
	if resp.Redirected {
		return p.persistRedirect(ctx, req, resp, now), nil
	}

	p.persist(ctx, req, resp.Normalize(), now)
	metrics.PipelineOutcomes.WithLabelValues("cached").Inc()
	return resp, nil
}

// retry 在首次结果不可用时按缓存记录或 HEAD 预检决定的 mode 重试一次。
func (p *Pipeline) retry(ctx context.Context, req *resource.Request, first *resource.Response, firstErr error) (*resource.Response, error) {
	mode := req.Mode
	if p.corsPermitted(ctx, req) {
		mode = resource.ModeCORS
	}
	metrics.CORSRetries.WithLabelValues(string(mode)).Inc()

	second, retryErr := p.fetcher.Fetch(ctx, req.WithMode(mode))
	if retryErr == nil && second.OK() {
		return second, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if retryErr != nil {
		return nil, retryErr
	}
	return first, nil
}

// corsPermitted 优先读取已缓存响应的 Access-Control-Allow-Origin；
// 未缓存时仅对跨域目标发起 HEAD 预检，预检错误视为不允许。
func (p *Pipeline) corsPermitted(ctx context.Context, req *resource.Request) bool {
	cached, err := p.cache.Match(ctx, req, cache.MatchOptions{})
	if err == nil {
		return strings.TrimSpace(cached.Header.Get("Access-Control-Allow-Origin")) != ""
	}
	if !errors.Is(err, cache.ErrNotFound) {
		p.logger.WithFields(logrus.Fields{
			"action": "cache_match_failed",
			"url":    req.Key(),
		}).WithError(err).Warn("cache_match_failed")
	}
	if req.SameOrigin(p.origin) {
		return false
	}

	head := req.Clone()
	head.Method = http.MethodHead
	head.Body = nil
	head.Mode = resource.ModeCORS
	head.Header = http.Header{}
	resp, err := p.fetcher.Fetch(ctx, head)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"action": "cors_preflight_failed",
			"url":    req.Key(),
		}).WithError(err).Debug("cors_preflight_failed")
		return false
	}
	return strings.TrimSpace(resp.Header.Get("Access-Control-Allow-Origin")) != ""
}

// persistRedirect 先写最终资源，再在原始地址写入指向它的合成 302。
func (p *Pipeline) persistRedirect(ctx context.Context, req *resource.Request, resp *resource.Response, now time.Time) *resource.Response {
	finalURL, err := url.Parse(resp.URL)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"action": "redirect_url_invalid",
			"url":    req.Key(),
		}).WithError(err).Warn("redirect_url_invalid")
		return resp
	}

	p.persist(ctx, req.WithURL(finalURL), resp.Normalize(), now)

	redirect := resource.NewRedirect(resp.URL, http.StatusFound)
	p.persist(ctx, req, redirect.Clone(), now)
	metrics.PipelineOutcomes.WithLabelValues("redirect_cached").Inc()
	return redirect
}

// persist 写入缓存与时间戳；失败只记录日志。
func (p *Pipeline) persist(ctx context.Context, req *resource.Request, resp *resource.Response, now time.Time) {
	if err := p.cache.Put(ctx, req, resp); err != nil {
		p.logger.WithFields(logrus.Fields{
			"action": "cache_write_failed",
			"url":    req.Key(),
		}).WithError(err).Warn("cache_write_failed")
		return
	}
	if err := p.meta.Put(ctx, req.Key(), now); err != nil {
		p.logger.WithFields(logrus.Fields{
			"action": "timestamp_write_failed",
			"url":    req.Key(),
		}).WithError(err).Warn("timestamp_write_failed")
	}
}

func cacheable(req *resource.Request) bool {
	return req.Method == http.MethodGet && req.Cache != resource.CacheNoStore
}
