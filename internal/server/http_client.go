package server

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/abogadovillegasminero-blip/bless/internal/config"
)

const defaultUpstreamTimeout = 30 * time.Second

// newUpstreamTransport 复用长连接；proxyURL 为空时遵循环境变量中的代理设置。
func newUpstreamTransport(proxyURL *url.URL) *http.Transport {
	proxy := http.ProxyFromEnvironment
	if proxyURL != nil {
		proxy = http.ProxyURL(proxyURL)
	}
	return &http.Transport{
		Proxy:                 proxy,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewUpstreamClient 返回预缓存、策略回源与透传共用的 http.Client。
// 配置了 Origin.Proxy 时所有出站请求都经由该代理。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	var proxyURL *url.URL
	if cfg != nil {
		if d := cfg.Global.UpstreamTimeout.DurationValue(); d > 0 {
			timeout = d
		}
		if parsed, err := cfg.ProxyURL(); err == nil {
			proxyURL = parsed
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newUpstreamTransport(proxyURL),
	}
}
