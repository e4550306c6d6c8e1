package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPrecache 是未配置 Cache.Precache 时使用的预缓存清单。
var DefaultPrecache = []string{
	"/static/manifest.json",
	"/static/icons/icon-192.png",
	"/static/icons/icon-512.png",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectUnknownKeys(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StoreBackend", "disk")
	v.SetDefault("MaxRetries", 0)
	v.SetDefault("InitialBackoff", "200ms")
	v.SetDefault("UpstreamTimeout", "30s")

	v.SetDefault("Cache.Prefix", "bless")
	v.SetDefault("Cache.Version", "v2")
	v.SetDefault("Cache.Precache", DefaultPrecache)
	v.SetDefault("Cache.PrecacheStrict", false)
	v.SetDefault("Cache.RecoveryPath", "/login")
	v.SetDefault("Cache.RecoveryScope", "all")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StoreBackend = strings.ToLower(strings.TrimSpace(g.StoreBackend))
	if g.StoreBackend == "" {
		g.StoreBackend = "disk"
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(200 * time.Millisecond)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyCacheDefaults(c *CacheConfig) {
	c.Prefix = strings.TrimSpace(c.Prefix)
	c.Version = strings.TrimSpace(c.Version)
	c.RecoveryPath = strings.TrimSpace(c.RecoveryPath)
	c.RecoveryScope = strings.ToLower(strings.TrimSpace(c.RecoveryScope))
	if c.RecoveryScope == "" {
		c.RecoveryScope = "all"
	}
	for i, ext := range c.StaticExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.StaticExtensions[i] = ext
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// knownKeys 列出允许出现的配置键（viper 会统一转为小写）。
var knownKeys = map[string]struct{}{
	"listenport": {}, "loglevel": {}, "logfilepath": {}, "logmaxsize": {}, "logmaxbackups": {},
	"logcompress": {}, "storagepath": {}, "storebackend": {}, "maxretries": {},
	"initialbackoff": {}, "upstreamtimeout": {},
	"origin.domain": {}, "origin.upstream": {}, "origin.proxy": {},
	"cache.prefix": {}, "cache.version": {}, "cache.precache": {}, "cache.precachestrict": {},
	"cache.recoverypath": {}, "cache.recoveryscope": {}, "cache.staticprefixes": {},
	"cache.staticextensions": {},
}

// rejectUnknownKeys 拒绝拼写错误或来自旧版本的配置键，避免静默忽略。
func rejectUnknownKeys(v *viper.Viper) error {
	for _, key := range v.AllKeys() {
		if _, ok := knownKeys[key]; ok {
			continue
		}
		return newFieldError(key, "未知配置项")
	}
	return nil
}
