package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/abogadovillegasminero-blip/bless/internal/config"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
)

// OriginRoute 聚合被拦截站点的派生属性（规范化域名、解析后的 Upstream/Proxy URL），
// 供路由与代理层直接复用，避免每个请求重复解析配置。
type OriginRoute struct {
	// Domain 是规范化后的对外主机名（小写、无尾点）。
	Domain string
	// DomainPort 为 Domain 中显式声明的端口，0 表示不限端口。
	DomainPort int
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
	// UpstreamURL 是应用地址，缓存键与预缓存地址都以它为基准。
	UpstreamURL *url.URL
	ProxyURL    *url.URL
}

// NewOriginRoute 根据配置构建站点路由信息。调用方应在启动阶段创建一次并复用。
func NewOriginRoute(cfg *config.Config) (*OriginRoute, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	host, port := normalizeHost(cfg.Origin.Domain)
	if host == "" {
		return nil, fmt.Errorf("invalid origin domain %q", cfg.Origin.Domain)
	}

	upstreamURL, err := cfg.UpstreamURL()
	if err != nil {
		return nil, err
	}
	proxyURL, err := cfg.ProxyURL()
	if err != nil {
		return nil, err
	}

	return &OriginRoute{
		Domain:      host,
		DomainPort:  port,
		ListenPort:  cfg.Global.ListenPort,
		UpstreamURL: upstreamURL,
		ProxyURL:    proxyURL,
	}, nil
}

// SameOrigin 判断请求 Host（可带端口）是否指向被拦截站点。
func (r *OriginRoute) SameOrigin(rawHost string) bool {
	if r == nil {
		return false
	}
	host, port := normalizeHost(rawHost)
	if host == "" || host != r.Domain {
		return false
	}
	return r.DomainPort == 0 || port == r.DomainPort
}

// TargetURL 把站内路径与查询串映射到应用地址上，与预缓存、恢复资源共用同一映射。
func (r *OriginRoute) TargetURL(path, rawQuery string) *url.URL {
	return network.OriginURL(r.UpstreamURL, path, rawQuery)
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
