// Package fetch 实现网络抓取与“抓取并缓存”管线。
//
// Network 以浏览器的方式对待跨域：no-cors 模式拿到的跨域响应是 opaque，
// cors 模式要求上游返回匹配的 Access-Control-Allow-Origin；同源请求被改写到
// 配置的上游地址，返回时再映射回公开 origin。
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/offline-hub/internal/resource"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/version"
)

// Fetcher 执行一次网络请求并返回完整读入内存的响应。
type Fetcher interface {
	Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *resource.Request) (*resource.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	return f(ctx, req)
}

// 只在代理与客户端之间有意义的请求头，不向上游透传。
var proxyOnlyHeaders = []string{
	"X-Offline-Hub-Cache",
	"Sec-Fetch-Mode",
}

const maxRedirects = 10

// Network 是基于共享 http.Client 的 Fetcher。
type Network struct {
	client   *http.Client
	origin   *url.URL
	upstream *url.URL
	wrap     func(*http.Client) *http.Client
}

// Option 调整 Network 的构造参数。
type Option func(*Network)

// WithClientWrapper 在设置 CheckRedirect 之后再包装一层客户端（例如重试）。
func WithClientWrapper(wrap func(*http.Client) *http.Client) Option {
	return func(n *Network) {
		n.wrap = wrap
	}
}

// NewNetwork 构造 Network。origin 是应用对外的公开地址，upstream 是实际回源地址。
func NewNetwork(client *http.Client, origin, upstream *url.URL, opts ...Option) *Network {
	n := &Network{origin: origin, upstream: upstream}
	for _, opt := range opts {
		opt(n)
	}
	if client == nil {
		client = http.DefaultClient
	}
	cloned := *client
	cloned.CheckRedirect = n.checkRedirect
	n.client = &cloned
	if n.wrap != nil {
		n.client = n.wrap(n.client)
	}
	return n
}

// Origin 返回公开 origin。
func (n *Network) Origin() *url.URL {
	return n.origin
}

func (n *Network) Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("fetch: nil request")
	}
	sameOrigin := req.SameOrigin(n.origin)
	if req.Mode == resource.ModeSameOrigin && !sameOrigin {
		return nil, fmt.Errorf("%w: %s", ErrModeViolation, req.Key())
	}

	target := req.URL
	if sameOrigin {
		target = n.ToUpstream(req.URL)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	outbound, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	server.CopyHeaders(outbound.Header, req.Header)
	for _, name := range proxyOnlyHeaders {
		outbound.Header.Del(name)
	}
	outbound.Header.Del("Host")
	if outbound.Header.Get("User-Agent") == "" {
		outbound.Header.Set("User-Agent", version.UserAgent())
	}
	if !sameOrigin && req.Mode == resource.ModeCORS && outbound.Header.Get("Origin") == "" {
		outbound.Header.Set("Origin", resource.OriginOf(n.origin))
	}

	resp, err := n.client.Do(outbound)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = n.ToPublic(resp.Request.URL)
	}
	finalSameOrigin := resource.SameOrigin(final, n.origin)
	if req.Mode == resource.ModeSameOrigin && !finalSameOrigin {
		return nil, fmt.Errorf("%w: redirected to %s", ErrModeViolation, final.String())
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	out := &resource.Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     header,
		Body:       payload,
		URL:        resource.KeyOf(final),
		Redirected: resource.KeyOf(final) != req.Key(),
		Type:       resource.TypeBasic,
	}

	if finalSameOrigin || req.Mode == resource.ModeNavigate {
		return out, nil
	}
	switch req.Mode {
	case resource.ModeCORS:
		if !n.corsAllowed(header) {
			return nil, fmt.Errorf("%w: %s", ErrCORSBlocked, out.URL)
		}
		out.Type = resource.TypeCORS
	default:
		out.Type = resource.TypeOpaque
	}
	return out, nil
}

func (n *Network) corsAllowed(header http.Header) bool {
	allowed := strings.TrimSpace(header.Get("Access-Control-Allow-Origin"))
	return allowed == "*" || strings.EqualFold(allowed, resource.OriginOf(n.origin))
}

// checkRedirect 把指向公开 origin 的重定向改写回上游。
func (n *Network) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if resource.SameOrigin(req.URL, n.origin) {
		req.URL = n.ToUpstream(req.URL)
		req.Host = ""
	}
	return nil
}

// ToUpstream 把公开 origin 下的地址改写到上游，保留上游的基础路径。
func (n *Network) ToUpstream(u *url.URL) *url.URL {
	out := *u
	out.Scheme = n.upstream.Scheme
	out.Host = n.upstream.Host
	out.User = n.upstream.User
	base := strings.TrimSuffix(n.upstream.Path, "/")
	if base != "" {
		out.Path = base + "/" + strings.TrimPrefix(u.Path, "/")
		out.RawPath = ""
	}
	out.Fragment = ""
	out.RawFragment = ""
	return &out
}

// ToPublic 把上游地址映射回公开 origin，非上游地址原样返回。
func (n *Network) ToPublic(u *url.URL) *url.URL {
	if !resource.SameOrigin(u, n.upstream) {
		return u
	}
	out := *u
	out.Scheme = n.origin.Scheme
	out.Host = n.origin.Host
	out.User = nil
	base := strings.TrimSuffix(n.upstream.Path, "/")
	if base != "" && (u.Path == base || strings.HasPrefix(u.Path, base+"/")) {
		out.Path = "/" + strings.TrimPrefix(strings.TrimPrefix(u.Path, base), "/")
		out.RawPath = ""
	}
	return &out
}

func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
