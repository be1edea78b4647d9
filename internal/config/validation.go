package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// minCleanupInterval 对应周期清理的最小间隔。
const minCleanupInterval = 24 * time.Hour

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if name := strings.TrimSpace(g.CacheName); name == "" || strings.ContainsAny(name, `/\ `) {
		return newFieldError("Global.CacheName", "不能为空且不能包含路径分隔符或空格")
	}
	switch g.MetadataBackend {
	case MetadataBackendSQLite:
	case MetadataBackendRedis:
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("Global.RedisAddr", "redis 后端必须配置地址")
		}
		if g.RedisDB < 0 {
			return newFieldError("Global.RedisDB", "不能为负数")
		}
	default:
		return newFieldError("Global.MetadataBackend", "仅支持 sqlite|redis")
	}
	if g.ExpiryWindow.DurationValue() <= 0 {
		return newFieldError("Global.ExpiryWindow", "必须大于 0")
	}
	if g.RefreshThrottle.DurationValue() <= 0 {
		return newFieldError("Global.RefreshThrottle", "必须大于 0")
	}
	if g.CleanupInterval.DurationValue() < minCleanupInterval {
		return newFieldError("Global.CleanupInterval", "不能小于 24h")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	app := c.App
	if err := validateDomain(app.Domain); err != nil {
		return fmt.Errorf("%s: %w", appField("Domain"), err)
	}
	if app.Scheme != "http" && app.Scheme != "https" {
		return newFieldError(appField("Scheme"), "仅支持 http/https")
	}
	if err := validateUpstream(app.Upstream); err != nil {
		return fmt.Errorf("%s: %w", appField("Upstream"), err)
	}
	if strings.ContainsAny(app.OfflinePage, "?#") {
		return newFieldError(appField("OfflinePage"), "只能是路径")
	}
	if strings.TrimSpace(app.ColdBootParam) == "" {
		return newFieldError(appField("ColdBootParam"), "不能为空")
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
