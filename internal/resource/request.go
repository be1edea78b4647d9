package resource

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
)

// Mode 对应浏览器 fetch 的 request.mode。
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// CacheMode 对应 request.cache，决定路由是否允许读写本地缓存。
type CacheMode string

const (
	CacheDefault      CacheMode = "default"
	CacheNoStore      CacheMode = "no-store"
	CacheNoCache      CacheMode = "no-cache"
	CacheReload       CacheMode = "reload"
	CacheForceCache   CacheMode = "force-cache"
	CacheOnlyIfCached CacheMode = "only-if-cached"
)

// Request 是与传输层无关的请求描述，Body 始终完整驻留内存以便重放。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
	Mode   Mode
	Cache  CacheMode
}

// NewRequest 构造一个 GET 请求，供内部合成（离线页、重定向目标）使用。
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: http.Header{},
		Mode:   ModeNoCORS,
		Cache:  CacheDefault,
	}, nil
}

// Key 返回缓存身份：去掉 fragment 的完整 URL。只有 GET 会被缓存，因此不含 method。
func (r *Request) Key() string {
	return KeyOf(r.URL)
}

// KeyOf 规范化 URL 作为缓存键。
func KeyOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	clean.Scheme = strings.ToLower(clean.Scheme)
	clean.Host = strings.ToLower(clean.Host)
	if clean.Path == "" {
		clean.Path = "/"
	}
	return clean.String()
}

// Clone 深拷贝请求，后台刷新与前台响应互不影响。
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cloned := *r
	if r.URL != nil {
		u := *r.URL
		if r.URL.User != nil {
			user := *r.URL.User
			u.User = &user
		}
		cloned.URL = &u
	}
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	if r.Body != nil {
		cloned.Body = bytes.Clone(r.Body)
	}
	return &cloned
}

// WithMode 仅替换 mode，method/headers/body/cache 指令全部保留。
func (r *Request) WithMode(mode Mode) *Request {
	cloned := r.Clone()
	cloned.Mode = mode
	return cloned
}

// WithURL 仅替换目标 URL。
func (r *Request) WithURL(u *url.URL) *Request {
	cloned := r.Clone()
	next := *u
	cloned.URL = &next
	return cloned
}

// IsNavigation 判断是否为整页导航：mode=navigate，或 GET 且 Accept 包含 text/html。
func (r *Request) IsNavigation() bool {
	if r == nil {
		return false
	}
	if r.Mode == ModeNavigate {
		return true
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// SameOrigin 判断请求目标是否与 origin 同源（scheme + host + port）。
func (r *Request) SameOrigin(origin *url.URL) bool {
	if r == nil || r.URL == nil || origin == nil {
		return false
	}
	return SameOrigin(r.URL, origin)
}

// SameOrigin 比较两个 URL 的 origin。
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(hostWithPort(a), hostWithPort(b))
}

// OriginOf 返回 scheme://host 形式的 origin 字符串。
func OriginOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func hostWithPort(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return host + ":" + port
}

// ParseMode 将 Sec-Fetch-Mode 头转换为 Mode，未知值返回 fallback。
func ParseMode(raw string, fallback Mode) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeNavigate:
		return ModeNavigate
	case ModeSameOrigin:
		return ModeSameOrigin
	case ModeNoCORS:
		return ModeNoCORS
	case ModeCORS:
		return ModeCORS
	default:
		return fallback
	}
}

// ParseCacheMode 根据显式覆盖头与 Cache-Control/Pragma 推导 request.cache。
func ParseCacheMode(override string, header http.Header) CacheMode {
	switch CacheMode(strings.ToLower(strings.TrimSpace(override))) {
	case CacheNoStore:
		return CacheNoStore
	case CacheNoCache:
		return CacheNoCache
	case CacheReload:
		return CacheReload
	case CacheForceCache:
		return CacheForceCache
	case CacheOnlyIfCached:
		return CacheOnlyIfCached
	case CacheDefault:
		return CacheDefault
	}

	directives := strings.ToLower(strings.Join(header.Values("Cache-Control"), ","))
	for _, part := range strings.Split(directives, ",") {
		if strings.TrimSpace(part) == "no-store" {
			return CacheNoStore
		}
	}
	for _, part := range strings.Split(directives, ",") {
		switch strings.TrimSpace(part) {
		case "no-cache", "max-age=0":
			return CacheNoCache
		}
	}
	if strings.EqualFold(strings.TrimSpace(header.Get("Pragma")), "no-cache") {
		return CacheNoCache
	}
	return CacheDefault
}
