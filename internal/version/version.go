package version

import "fmt"

// 构建时通过 -ldflags "-X .../internal/version.Version=..." 注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 CLI 与 /-/status 展示的版本串。
func Full() string {
	return fmt.Sprintf("offline-hub %s (%s)", Version, Commit)
}

// UserAgent 是代理自身发起请求（后台刷新、预检）时缺省使用的 User-Agent。
func UserAgent() string {
	return fmt.Sprintf("offline-hub/%s", Version)
}
