// Package classify 把被拦截的请求映射到检索策略，规则按固定顺序求值，首个命中者生效。
package classify

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// Policy 是分类结果对应的处理方式。
type Policy string

const (
	PolicyBypass       Policy = "bypass"
	PolicyCacheFirst   Policy = "cache-first"
	PolicyNetworkFirst Policy = "network-first"
)

// Reason 记录命中的规则，便于日志与诊断。
type Reason string

const (
	ReasonUnsafeMethod Reason = "unsafe_method"
	ReasonCrossOrigin  Reason = "cross_origin"
	ReasonStaticAsset  Reason = "static_asset"
	ReasonNavigation   Reason = "navigation"
	ReasonDefault      Reason = "default"
)

// Request 只携带分类所需的信息。
type Request struct {
	Method     string
	Path       string
	SameOrigin bool
	Navigate   bool
}

// Decision 是一次分类的结果。
type Decision struct {
	Policy Policy
	Reason Reason
}

// Rules 描述静态资源的识别条件。
type Rules struct {
	StaticPrefixes   []string
	StaticExtensions []string
}

// DefaultRules 返回内置的静态资源规则。
func DefaultRules() Rules {
	return Rules{
		StaticPrefixes:   []string{"/static/"},
		StaticExtensions: []string{".css", ".js", ".png", ".jpg", ".jpeg", ".svg", ".ico", ".woff", ".woff2"},
	}
}

// Classify 按以下顺序求值：非 GET → 跨源 → 静态资源 → 导航 → 默认。
// 导航与默认都落到 network-first，仅 Reason 不同。
func Classify(req Request, rules Rules) Decision {
	if req.Method != http.MethodGet {
		return Decision{Policy: PolicyBypass, Reason: ReasonUnsafeMethod}
	}
	if !req.SameOrigin {
		return Decision{Policy: PolicyBypass, Reason: ReasonCrossOrigin}
	}
	if rules.IsStatic(req.Path) {
		return Decision{Policy: PolicyCacheFirst, Reason: ReasonStaticAsset}
	}
	if req.Navigate {
		return Decision{Policy: PolicyNetworkFirst, Reason: ReasonNavigation}
	}
	return Decision{Policy: PolicyNetworkFirst, Reason: ReasonDefault}
}

// IsStatic 判断路径是否命中静态前缀或扩展名（扩展名大小写不敏感）。
func (r Rules) IsStatic(p string) bool {
	for _, prefix := range r.StaticPrefixes {
		if prefix != "" && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, candidate := range r.StaticExtensions {
		if strings.EqualFold(candidate, ext) {
			return true
		}
	}
	return false
}

// NavigationIntent 根据请求头推断是否为页面导航。
// 有 Fetch Metadata 时只看 Sec-Fetch-Mode；缺失时退化为 Sec-Fetch-Dest 或 Accept 判断。
func NavigationIntent(header http.Header) bool {
	if mode := header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if dest := header.Get("Sec-Fetch-Dest"); dest != "" {
		return strings.EqualFold(dest, "document")
	}
	return acceptsHTML(header.Get("Accept"))
}

func acceptsHTML(accept string) bool {
	if accept == "" {
		return false
	}
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		// 取第一个可解析的媒体类型，浏览器导航总把 text/html 放在最前。
		return mediaType == "text/html" || mediaType == "application/xhtml+xml"
	}
	return false
}
