package cache

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/any-hub/offline-hub/internal/resource"
)

// Store 负责管理响应缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<CacheName>/<sha1[0:2]>/<sha1(key)>.body   # 响应正文
//	<StoragePath>/<CacheName>/<sha1[0:2]>/<sha1(key)>.json   # 状态码、头部与 Vary 快照
//
// 只有 GET 请求会被写入，带 no-store 指令的请求永远不会落盘。
type Store interface {
	// Match 按请求身份查找缓存响应，未命中返回 ErrNotFound。
	Match(ctx context.Context, req *resource.Request, opts MatchOptions) (*resource.Response, error)

	// MatchKey 忽略 Vary 直接按缓存键查找，供离线页等内部合成请求使用。
	MatchKey(ctx context.Context, key string) (*resource.Response, error)

	// Put 写入一份已规范化的响应副本，覆盖同键旧条目。
	Put(ctx context.Context, req *resource.Request, resp *resource.Response) error

	// Delete 删除指定缓存键，键不存在时视为成功。
	Delete(ctx context.Context, key string) error
}

// MatchOptions 控制查找语义。
type MatchOptions struct {
	// IgnoreVary 为 true 时不比较 Vary 头指定的请求头。
	IgnoreVary bool
}

// Record 是落盘的元数据结构。
type Record struct {
	Key        string              `json:"key"`
	URL        string              `json:"url"`
	Status     int                 `json:"status"`
	StatusText string              `json:"status_text"`
	Header     http.Header         `json:"header"`
	Vary       map[string][]string `json:"vary,omitempty"`
	SizeBytes  int64               `json:"size_bytes"`
	StoredAt   time.Time           `json:"stored_at"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrNotCacheable 表示请求不允许写入缓存（非 GET 或 no-store）。
	ErrNotCacheable = errors.New("request is not cacheable")
)
