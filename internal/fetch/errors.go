package fetch

import "errors"

var (
	// ErrCORSBlocked 表示 cors 模式的跨域请求未获得 Access-Control-Allow-Origin 许可。
	ErrCORSBlocked = errors.New("cross-origin request blocked")
	// ErrModeViolation 表示 same-origin 模式的请求指向（或被重定向到）其他 origin。
	ErrModeViolation = errors.New("same-origin request to a foreign origin")
)
