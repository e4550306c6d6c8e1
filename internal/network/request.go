package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
)

// Request 是被拦截请求在核心内部的表示，与 fiber 上下文解耦。
type Request struct {
	Method   string
	URL      *url.URL
	Header   http.Header
	Body     []byte
	Navigate bool
}

// Key 返回请求对应的缓存键；非 GET 请求返回 cache.ErrUnsafeMethod。
func (r *Request) Key() (cache.Key, error) {
	return cache.NewKey(r.Method, r.URL)
}

// WithURL 返回指向 u 的 GET 副本，其余头部沿用原请求（用于回退资源等派生请求）。
func (r *Request) WithURL(u *url.URL) *Request {
	return &Request{
		Method:   http.MethodGet,
		URL:      u,
		Header:   r.Header.Clone(),
		Navigate: r.Navigate,
	}
}

// Fetcher 负责真正的网络获取：HTTP 错误状态码属于成功结果，
// 只有传输层失败才以 *TransportError 返回。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// FetcherFunc 允许普通函数充当 Fetcher。
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	return f(ctx, req)
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// ResolvePath 将预缓存或恢复资源的站内路径（以 / 开头，可带查询串）映射为 base 上的绝对 URL。
func ResolvePath(base *url.URL, raw string) (*url.URL, error) {
	if base == nil {
		return nil, errors.New("origin url required")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", raw, err)
	}
	if ref.IsAbs() || ref.Host != "" || !strings.HasPrefix(ref.Path, "/") {
		return nil, fmt.Errorf("path %q must be origin-relative", raw)
	}
	return OriginURL(base, ref.Path, ref.RawQuery), nil
}

// OriginURL 把站内路径映射到应用地址：base 的路径作为前缀，缓存键与回源地址都由它生成。
func OriginURL(base *url.URL, sitePath, rawQuery string) *url.URL {
	target := *base
	if sitePath == "" {
		sitePath = "/"
	}
	target.Path = strings.TrimSuffix(base.Path, "/") + sitePath
	target.RawPath = ""
	target.RawQuery = rawQuery
	target.Fragment = ""
	return &target
}

// SitePath 是 OriginURL 的逆映射，返回客户端可见的站内路径。
// target 不在 base 路径之下时原样返回其路径。
func SitePath(base, target *url.URL) string {
	if target == nil || target.Path == "" {
		return "/"
	}
	if base == nil {
		return target.Path
	}
	prefix := strings.TrimSuffix(base.Path, "/")
	switch {
	case prefix == "":
		return target.Path
	case target.Path == prefix:
		return "/"
	case strings.HasPrefix(target.Path, prefix+"/"):
		return target.Path[len(prefix):]
	}
	return target.Path
}
