// Package router 按固定顺序匹配路由规则，决定请求是直接放行还是交给缓存策略处理。
package router

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/resource"
)

// 路由名称，按匹配顺序排列。
const (
	RouteBypassCache = "bypass-cache"
	RouteNonGET      = "non-get"
	RouteNonHTTP     = "non-http"
	RouteColdBoot    = "cold-boot"
	RouteNoCache     = "no-cache"
	RouteCrossOrigin = "cross-origin"
	RouteDefault     = "default"
)

// DefaultColdBootParam 是触发冷启动的一次性查询参数。
const DefaultColdBootParam = "cold_bootting"

// Kind 区分路由结果。
type Kind int

const (
	// PassThrough 表示不拦截，请求原样交给网络。
	PassThrough Kind = iota
	// Handled 表示策略已给出响应或错误。
	Handled
)

func (k Kind) String() string {
	if k == Handled {
		return "handled"
	}
	return "pass_through"
}

// Result 是一次路由决策的结果。Request 为实际分派的请求（冷启动时已去掉标记）。
type Result struct {
	Kind     Kind
	Route    string
	Response *resource.Response
	Err      error
	Request  *resource.Request
}

// Strategies 由 strategy.Strategies 实现。
type Strategies interface {
	CacheFirst(ctx context.Context, req *resource.Request) (*resource.Response, error)
	NetworkFirst(ctx context.Context, req *resource.Request) (*resource.Response, error)
}

type rule struct {
	name    string
	matches func(r *Router, req *resource.Request) bool
	handle  func(r *Router, ctx context.Context, req *resource.Request) (*resource.Response, error)
}

// 规则表不可变，first-match-wins；handle 为 nil 表示放行。
var rules = []rule{
	{
		name:    RouteBypassCache,
		matches: func(_ *Router, req *resource.Request) bool { return req.Cache == resource.CacheNoStore },
	},
	{
		name:    RouteNonGET,
		matches: func(_ *Router, req *resource.Request) bool { return req.Method != http.MethodGet },
	},
	{
		name: RouteNonHTTP,
		matches: func(_ *Router, req *resource.Request) bool {
			scheme := strings.ToLower(req.URL.Scheme)
			return !strings.HasPrefix(scheme, "http")
		},
	},
	{
		name:    RouteColdBoot,
		matches: (*Router).coldBootMatches,
		handle:  (*Router).handleColdBoot,
	},
	{
		name:    RouteNoCache,
		matches: func(_ *Router, req *resource.Request) bool { return req.Cache == resource.CacheNoCache },
		handle:  (*Router).networkFirst,
	},
	{
		name:    RouteCrossOrigin,
		matches: func(r *Router, req *resource.Request) bool { return !req.SameOrigin(r.origin) },
		handle:  (*Router).cacheFirst,
	},
	{
		name:    RouteDefault,
		matches: func(*Router, *resource.Request) bool { return true },
		handle:  (*Router).networkFirst,
	},
}

// Router 持有冷启动状态与策略依赖。
type Router struct {
	origin     *url.URL
	strategies Strategies
	coldBoot   *ColdBoot
	param      string
	logger     *logrus.Logger
}

// Options 配置 Router。
type Options struct {
	Origin     *url.URL
	Strategies Strategies
	ColdBoot   *ColdBoot
	// ColdBootParam 默认为 cold_bootting。
	ColdBootParam string
	Logger        *logrus.Logger
}

// New 构造 Router；未提供 ColdBoot 时创建一个新的。
func New(opts Options) *Router {
	coldBoot := opts.ColdBoot
	if coldBoot == nil {
		coldBoot = &ColdBoot{}
	}
	param := opts.ColdBootParam
	if param == "" {
		param = DefaultColdBootParam
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Router{
		origin:     opts.Origin,
		strategies: opts.Strategies,
		coldBoot:   coldBoot,
		param:      param,
		logger:     logger,
	}
}

// ColdBoot 返回冷启动状态对象，供控制接口切换。
func (r *Router) ColdBoot() *ColdBoot {
	return r.coldBoot
}

// Routes 返回按顺序排列的路由名称。
func (r *Router) Routes() []string {
	names := make([]string, 0, len(rules))
	for _, rule := range rules {
		names = append(names, rule.name)
	}
	return names
}

// Route 依次匹配规则，返回第一个命中的结果。
func (r *Router) Route(ctx context.Context, req *resource.Request) Result {
	for _, rule := range rules {
		if !rule.matches(r, req) {
			continue
		}
		if rule.handle == nil {
			metrics.RouteDecisions.WithLabelValues(rule.name, PassThrough.String()).Inc()
			return Result{Kind: PassThrough, Route: rule.name, Request: req}
		}
		dispatched := req
		if rule.name == RouteColdBoot {
			dispatched = r.stripMarker(req)
		}
		resp, err := rule.handle(r, ctx, dispatched)
		metrics.RouteDecisions.WithLabelValues(rule.name, Handled.String()).Inc()
		return Result{Kind: Handled, Route: rule.name, Response: resp, Err: err, Request: dispatched}
	}
	return Result{Kind: PassThrough, Route: RouteDefault, Request: req}
}

// coldBootMatches 在请求携带 `<param>=true` 时顺带开启冷启动模式。
func (r *Router) coldBootMatches(req *resource.Request) bool {
	if req.URL.Query().Get(r.param) == "true" {
		if !r.coldBoot.Active() {
			r.logger.WithFields(logrus.Fields{
				"action": "cold_boot_enter",
				"url":    req.Key(),
				"source": "query_marker",
			}).Info("cold_boot_enter")
		}
		r.coldBoot.Enter()
	}
	return r.coldBoot.Active()
}

func (r *Router) handleColdBoot(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	return r.strategies.CacheFirst(ctx, req)
}

// stripMarker 去掉查询标记并把 navigate 降级为 same-origin；无标记时原样返回。
func (r *Router) stripMarker(req *resource.Request) *resource.Request {
	rawQuery, stripped := removeQueryParam(req.URL.RawQuery, r.param)
	if !stripped {
		return req
	}
	clean := *req.URL
	clean.RawQuery = rawQuery
	clean.ForceQuery = false
	rebuilt := req.WithURL(&clean)
	if rebuilt.Mode == resource.ModeNavigate {
		rebuilt.Mode = resource.ModeSameOrigin
	}
	return rebuilt
}

// removeQueryParam 只删除名为 name 的键值对，其余参数保持原有顺序与编码。
func removeQueryParam(rawQuery, name string) (string, bool) {
	if rawQuery == "" {
		return rawQuery, false
	}
	pairs := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(pairs))
	stripped := false
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if key == name {
			stripped = true
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&"), stripped
}

func (r *Router) cacheFirst(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	return r.strategies.CacheFirst(ctx, req)
}

func (r *Router) networkFirst(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	return r.strategies.NetworkFirst(ctx, req)
}
