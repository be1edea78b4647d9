package resource

import "context"

type retryKey struct{}

// WithRetries 标记 ctx 上的网络请求允许按配置退避重试。只有后台刷新这类
// 不阻塞调用方的请求才应打标记；前台请求只尝试一次，以便尽快回退到缓存。
func WithRetries(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

// RetriesAllowed 报告 ctx 是否带有重试标记。
func RetriesAllowed(ctx context.Context) bool {
	allowed, _ := ctx.Value(retryKey{}).(bool)
	return allowed
}
