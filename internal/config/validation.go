package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
)

var supportedBackends = map[string]struct{}{
	"memory": {},
	"disk":   {},
	"sqlite": {},
}

const supportedBackendList = "memory|disk|sqlite"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedBackends[g.StoreBackend]; !ok {
		return newFieldError("Global.StoreBackend", "仅支持 "+supportedBackendList)
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.StoreBackend == "disk" && g.LogFilePath != "" && pathWithin(g.LogFilePath, filepath.Join(g.StoragePath, cache.DiskStoresDir)) {
		return newFieldError("Global.LogFilePath", "不能位于缓存仓库目录内")
	}

	if err := validateDomain(c.Origin.Domain); err != nil {
		return fmt.Errorf("%s: %w", originField("Domain"), err)
	}
	if err := validateUpstream(c.Origin.Upstream); err != nil {
		return fmt.Errorf("%s: %w", originField("Upstream"), err)
	}
	if c.Origin.Proxy != "" {
		if err := validateUpstream(c.Origin.Proxy); err != nil {
			return fmt.Errorf("%s: %w", originField("Proxy"), err)
		}
	}

	return c.Cache.validate()
}

func (c CacheConfig) validate() error {
	if err := validateNameSegment(c.Prefix); err != nil {
		return fmt.Errorf("%s: %w", cacheField("Prefix"), err)
	}
	if err := validateNameSegment(c.Version); err != nil {
		return fmt.Errorf("%s: %w", cacheField("Version"), err)
	}
	for i, entry := range c.Precache {
		if err := validateOriginPath(entry); err != nil {
			return fmt.Errorf("%s: %w", cacheField(fmt.Sprintf("Precache[%d]", i)), err)
		}
	}
	if c.RecoveryPath != "" {
		if err := validateOriginPath(c.RecoveryPath); err != nil {
			return fmt.Errorf("%s: %w", cacheField("RecoveryPath"), err)
		}
	}
	switch c.RecoveryScope {
	case "all", "navigate":
	default:
		return newFieldError(cacheField("RecoveryScope"), "仅支持 all/navigate")
	}
	for _, prefix := range c.StaticPrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return newFieldError(cacheField("StaticPrefixes"), fmt.Sprintf("必须以 / 开头: %s", prefix))
		}
	}
	for _, ext := range c.StaticExtensions {
		if len(ext) < 2 || strings.ContainsAny(ext, "/ ") {
			return newFieldError(cacheField("StaticExtensions"), fmt.Sprintf("非法扩展名: %q", ext))
		}
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// validateNameSegment 约束仓库名称片段，名称最终会成为目录名或数据库主键。
func validateNameSegment(value string) error {
	if value == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(value, `/\ `) || strings.HasPrefix(value, ".") {
		return fmt.Errorf("包含非法字符: %q", value)
	}
	return nil
}

func validateOriginPath(raw string) error {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return fmt.Errorf("必须是以 / 开头的站内路径: %s", raw)
	}
	if _, err := url.Parse(raw); err != nil {
		return err
	}
	return nil
}

// pathWithin 判断 path 是否位于 dir 之内（含 dir 本身）。
func pathWithin(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
