package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/classify"
	"github.com/abogadovillegasminero-blip/bless/internal/lifecycle"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
	"github.com/abogadovillegasminero-blip/bless/internal/strategy"
)

// 以下方法假定 Validate 已通过，负责把配置字段转换为运行时使用的结构化值。

// Generation 返回当前版本的仓库集合。
func (c *Config) Generation() cache.Generation {
	return cache.Generation{Prefix: c.Cache.Prefix, Version: c.Cache.Version}
}

// Backend 返回仓库持久化方式。
func (c *Config) Backend() cache.Backend {
	return cache.Backend(c.Global.StoreBackend)
}

// LockPath 返回生命周期文件锁路径；memory 后端不跨进程共享，返回空串。
func (c *Config) LockPath() string {
	if c.Backend() == cache.BackendMemory {
		return ""
	}
	return filepath.Join(c.Global.StoragePath, lifecycle.LockFileName)
}

// UpstreamURL 解析应用地址。
func (c *Config) UpstreamURL() (*url.URL, error) {
	parsed, err := url.Parse(c.Origin.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", originField("Upstream"), err)
	}
	return parsed, nil
}

// ProxyURL 解析出站代理地址，未配置时返回 nil。
func (c *Config) ProxyURL() (*url.URL, error) {
	if strings.TrimSpace(c.Origin.Proxy) == "" {
		return nil, nil
	}
	parsed, err := url.Parse(c.Origin.Proxy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", originField("Proxy"), err)
	}
	return parsed, nil
}

// RecoveryURL 返回恢复资源在应用上的绝对地址，RecoveryPath 为空时返回 nil（禁用兜底）。
func (c *Config) RecoveryURL() (*url.URL, error) {
	if c.Cache.RecoveryPath == "" {
		return nil, nil
	}
	base, err := c.UpstreamURL()
	if err != nil {
		return nil, err
	}
	target, err := network.ResolvePath(base, c.Cache.RecoveryPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cacheField("RecoveryPath"), err)
	}
	return target, nil
}

// RecoveryScope 返回恢复资源的适用范围。
func (c *Config) RecoveryScope() strategy.RecoveryScope {
	if c.Cache.RecoveryScope == string(strategy.RecoveryScopeNavigate) {
		return strategy.RecoveryScopeNavigate
	}
	return strategy.RecoveryScopeAll
}

// ClassifierRules 返回静态资源识别规则，未配置的部分沿用内置默认值。
func (c *Config) ClassifierRules() classify.Rules {
	rules := classify.DefaultRules()
	if len(c.Cache.StaticPrefixes) > 0 {
		rules.StaticPrefixes = append([]string(nil), c.Cache.StaticPrefixes...)
	}
	if len(c.Cache.StaticExtensions) > 0 {
		rules.StaticExtensions = append([]string(nil), c.Cache.StaticExtensions...)
	}
	return rules
}
