package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/offline-hub/internal/config"
)

// AppRoute 将 [App] 配置与派生属性（公开 origin、解析后的 Upstream URL、
// 离线页完整地址）聚合在一起，供路由/代理层直接复用，避免重复解析配置。
type AppRoute struct {
	// Config 是用户在 config.toml 中声明的 App 字段副本。
	Config config.AppConfig
	// ListenPort 记录当前 CLI 监听端口，方便日志输出。
	ListenPort int
	// Origin 是应用对外的地址，同源判定与 URL 回写都以它为准。
	Origin *url.URL
	// UpstreamURL 是同源请求实际回源的地址。
	UpstreamURL *url.URL
	// OfflinePage 是离线页的完整缓存键。
	OfflinePage string
}

// NewAppRoute 根据配置构建 AppRoute。调用方应在启动阶段创建一次并复用。
func NewAppRoute(cfg *config.Config) (*AppRoute, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	app := cfg.App

	host := normalizeDomain(app.Domain)
	if host == "" {
		return nil, fmt.Errorf("invalid app domain %q", app.Domain)
	}
	scheme := app.Scheme
	if scheme == "" {
		scheme = "https"
	}
	origin := &url.URL{Scheme: scheme, Host: host}
	if _, port := normalizeHost(app.Domain); port > 0 {
		origin.Host = net.JoinHostPort(host, strconv.Itoa(port))
	}

	upstreamURL, err := url.Parse(app.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for app: %w", err)
	}

	offline := origin.ResolveReference(&url.URL{Path: app.OfflinePage})

	return &AppRoute{
		Config:      app,
		ListenPort:  cfg.Global.ListenPort,
		Origin:      origin,
		UpstreamURL: upstreamURL,
		OfflinePage: offline.String(),
	}, nil
}

// Owns 判断 Host 或 Host:port 是否指向应用自身。
func (r *AppRoute) Owns(host string) bool {
	if r == nil {
		return false
	}
	normalized, _ := normalizeHost(host)
	return normalized != "" && normalized == r.Origin.Hostname()
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
