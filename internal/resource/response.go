package resource

import (
	"bytes"
	"net/http"
)

// ResponseType 对应 fetch 的 response.type。
type ResponseType string

const (
	TypeBasic  ResponseType = "basic"
	TypeCORS   ResponseType = "cors"
	TypeOpaque ResponseType = "opaque"
)

// Response 是完全读入内存的响应，可任意次克隆与回放。
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	// URL 为最终响应地址；发生重定向时与请求地址不同。
	URL        string
	Redirected bool
	Type       ResponseType
}

// OK 与 fetch 的 response.ok 一致：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Opaque 表示跨域且无读取权限的响应。
func (r *Response) Opaque() bool {
	return r != nil && r.Type == TypeOpaque
}

// Clone 深拷贝响应，写缓存用副本，原件返回给调用方。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	if r.Body != nil {
		cloned.Body = bytes.Clone(r.Body)
	}
	return &cloned
}

// Normalize 去掉 redirected/type 等网络层痕迹，生成可直接落盘的响应。
func (r *Response) Normalize() *Response {
	cloned := r.Clone()
	cloned.Redirected = false
	if cloned.Type == "" || cloned.Type == TypeCORS {
		cloned.Type = TypeBasic
	}
	if cloned.StatusText == "" {
		cloned.StatusText = http.StatusText(cloned.Status)
	}
	return cloned
}

// NewRedirect 构造指向 location 的合成重定向响应。
func NewRedirect(location string, status int) *Response {
	if status == 0 {
		status = http.StatusFound
	}
	header := http.Header{}
	header.Set("Location", location)
	return &Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     header,
		Body:       []byte{},
		Type:       TypeBasic,
	}
}

// ServiceUnavailable 是非导航请求的最终兜底响应。
func ServiceUnavailable() *Response {
	return &Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: "Service Unavailable",
		Header:     http.Header{},
		Body:       []byte{},
		Type:       TypeBasic,
	}
}
