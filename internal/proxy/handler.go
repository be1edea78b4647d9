package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/resource"
	"github.com/any-hub/offline-hub/internal/router"
	"github.com/any-hub/offline-hub/internal/server"
)

// 客户端可通过该头显式指定 request.cache，取值同 fetch 规范。
const headerCacheOverride = "X-Offline-Hub-Cache"

// 响应头：命中的路由与响应类型。
const (
	headerRoute        = "X-Offline-Hub-Route"
	headerResponseType = "X-Offline-Hub-Response-Type"
)

// Router 由 router.Router 实现。
type Router interface {
	Route(ctx context.Context, req *resource.Request) router.Result
}

// OfflinePage 由 strategy.Strategies 实现，返回缓存中的离线页。
type OfflinePage interface {
	Offline(ctx context.Context) (*resource.Response, error)
}

// URLMapper 由 fetch.Network 实现，负责公开 origin 与上游之间的地址映射。
type URLMapper interface {
	ToUpstream(u *url.URL) *url.URL
	ToPublic(u *url.URL) *url.URL
}

// Handler 把 Fiber 请求转换为 resource.Request，交给路由器决策后写回响应；
// 放行的请求直接流式转发到网络，不经过缓存。
type Handler struct {
	router  Router
	offline OfflinePage
	client  *http.Client
	mapper  URLMapper
	logger  *logrus.Logger
}

// Options 汇总 Handler 的依赖。
type Options struct {
	Router  Router
	Offline OfflinePage
	// Client 用于放行请求，不跟随重定向。
	Client *http.Client
	Mapper URLMapper
	Logger *logrus.Logger
}

// NewHandler constructs a proxy handler with shared router/client/logger.
func NewHandler(opts Options) *Handler {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	passThrough := *client
	passThrough.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		router:  opts.Router,
		offline: opts.Offline,
		client:  &passThrough,
		mapper:  opts.Mapper,
		logger:  logger,
	}
}

// Handle 执行路由决策；策略失败时按导航与否回退到离线页或 503。
func (h *Handler) Handle(c fiber.Ctx, route *server.AppRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	ctx := requestContext(c)

	req := buildRequest(c, route)
	result := h.router.Route(ctx, req)
	c.Set(headerRoute, result.Route)

	if result.Kind == router.PassThrough {
		status, err := h.passThrough(c, route, result.Request)
		h.logResult(requestID, req, result, status, started, err)
		if err != nil {
			return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
		}
		return nil
	}

	resp, err := result.Response, result.Err
	if err != nil || resp == nil {
		h.logResult(requestID, req, result, 0, started, err)
		return h.respondFallback(c, req)
	}
	h.logResult(requestID, req, result, resp.Status, started, nil)
	return writeResponse(c, resp)
}

// Fallback 是顶层兜底：导航请求返回离线页，其它请求返回合成的 503。
func (h *Handler) Fallback(c fiber.Ctx, route *server.AppRoute) error {
	return h.respondFallback(c, buildRequest(c, route))
}

func (h *Handler) respondFallback(c fiber.Ctx, req *resource.Request) error {
	if req.IsNavigation() && h.offline != nil {
		page, err := h.offline.Offline(requestContext(c))
		if err == nil {
			c.Set(headerResponseType, "offline")
			return writeResponse(c, page)
		}
		h.logger.WithFields(logrus.Fields{
			"action":     "offline_page_missing",
			"request_id": server.RequestID(c),
			"url":        req.Key(),
		}).WithError(err).Warn("offline_page_missing")
	}
	return writeResponse(c, resource.ServiceUnavailable())
}

// passThrough 将请求原样发往网络并流式写回，返回上游状态码。
func (h *Handler) passThrough(c fiber.Ctx, route *server.AppRoute, req *resource.Request) (int, error) {
	if req == nil || req.URL == nil {
		return 0, errors.New("pass-through: nil request")
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return 0, fmt.Errorf("pass-through: unsupported scheme %q", req.URL.Scheme)
	}

	target := req.URL
	sameOrigin := route != nil && req.SameOrigin(route.Origin)
	if sameOrigin && h.mapper != nil {
		target = h.mapper.ToUpstream(req.URL)
	}

	outbound, err := http.NewRequestWithContext(requestContext(c), req.Method, target.String(), bytesReader(req.Body))
	if err != nil {
		return 0, err
	}
	server.CopyHeaders(outbound.Header, req.Header)
	outbound.Header.Del(headerCacheOverride)
	outbound.Header.Del("Host")
	outbound.Header.Del("Accept-Encoding")
	if sameOrigin {
		outbound.Header.Set("X-Forwarded-Host", route.Origin.Host)
		outbound.Header.Set("X-Forwarded-Proto", route.Origin.Scheme)
	}

	resp, err := h.client.Do(outbound)
	if err != nil {
		return 0, err
	}

	header := resp.Header.Clone()
	if location := header.Get("Location"); location != "" && h.mapper != nil {
		if parsed, err := target.Parse(location); err == nil {
			header.Set("Location", h.mapper.ToPublic(parsed).String())
		}
	}
	copyResponseHeaders(c, header)
	c.Status(resp.StatusCode)
	if req.Method == http.MethodHead {
		resp.Body.Close()
		return resp.StatusCode, nil
	}
	size := -1
	if resp.ContentLength >= 0 {
		size = int(resp.ContentLength)
	}
	// SendStream 在写完后负责关闭实现了 io.Closer 的 Body。
	return resp.StatusCode, c.SendStream(resp.Body, size)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	requestID string,
	req *resource.Request,
	result router.Result,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(requestID, req.Key(), result.Route)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["mode"] = string(req.Mode)
	fields["kind"] = result.Kind.String()
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildRequest 由 Host 判定同源：指向应用域名的请求使用公开 origin，其它主机按跨域处理。
func buildRequest(c fiber.Ctx, route *server.AppRoute) *resource.Request {
	host := server.HostHeader(c)
	target := &url.URL{
		Path:     requestPath(c),
		RawQuery: string(c.Request().URI().QueryString()),
	}

	owned := route != nil && (host == "" || route.Owns(host))
	if owned {
		target.Scheme = route.Origin.Scheme
		target.Host = route.Origin.Host
	} else {
		target.Scheme = forwardedScheme(c)
		target.Host = strings.ToLower(host)
	}

	header := fiberHeadersAsHTTP(c)
	fallbackMode := resource.ModeNoCORS
	if owned {
		fallbackMode = resource.ModeSameOrigin
	}

	return &resource.Request{
		Method: c.Method(),
		URL:    target,
		Header: header,
		Body:   append([]byte(nil), c.Body()...),
		Mode:   resource.ParseMode(header.Get("Sec-Fetch-Mode"), fallbackMode),
		Cache:  resource.ParseCacheMode(header.Get(headerCacheOverride), header),
	}
}

func writeResponse(c fiber.Ctx, resp *resource.Response) error {
	copyResponseHeaders(c, resp.Header)
	if resp.Type != "" {
		c.Set(headerResponseType, string(resp.Type))
	}
	status := resp.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	return c.Status(status).Send(resp.Body)
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func forwardedScheme(c fiber.Ctx) string {
	if proto := strings.ToLower(strings.TrimSpace(c.Get("X-Forwarded-Proto"))); proto == "http" || proto == "https" {
		return proto
	}
	return c.Scheme()
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	clean := path.Clean("/" + pathVal)
	if strings.HasSuffix(pathVal, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
