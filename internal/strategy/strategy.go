package strategy

import (
	"context"
	"errors"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
)

// Outcome 描述响应的来源，写入 X-Swcache-Outcome 头并用于指标分组。
type Outcome string

const (
	OutcomeCacheHit         Outcome = "cache_hit"
	OutcomeNetwork          Outcome = "network"
	OutcomeCacheFallback    Outcome = "cache_fallback"
	OutcomeRecoveryFallback Outcome = "recovery_fallback"
)

// RecoveryScope 限定 network-first 在何种请求上使用恢复资源兜底。
type RecoveryScope string

const (
	RecoveryScopeAll      RecoveryScope = "all"
	RecoveryScopeNavigate RecoveryScope = "navigate"
)

// Strategy 是一种检索算法：返回响应及其来源，或原始的传输失败。
type Strategy interface {
	Retrieve(ctx context.Context, req *network.Request) (*cache.Response, Outcome, error)
}

// Env 汇集策略运行所需的全部能力句柄，不依赖任何全局状态。
type Env struct {
	Registry      cache.Registry
	Fetcher       network.Fetcher
	Generation    cache.Generation
	Recovery      *url.URL
	RecoveryScope RecoveryScope
	Logger        *logrus.Logger
}

// Log 返回可用的 logger，未配置时退回 logrus 标准实例。
func (e Env) Log() *logrus.Logger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// RuntimeWriter 返回绑定到当前版本 runtime 仓库的写入器。
func (e Env) RuntimeWriter() cache.Writer {
	return cache.NewWriter(e.Registry, e.Generation.Runtime(), e.Log())
}

// MatchCurrent 在当前版本的全部仓库中查找 key。
// 未命中返回 (nil, false)；读失败记录日志后同样按未命中处理。
func (e Env) MatchCurrent(ctx context.Context, key cache.Key) (*cache.Response, bool) {
	if e.Registry == nil {
		return nil, false
	}
	resp, err := e.Registry.Match(ctx, key, e.Generation.Names()...)
	switch {
	case err == nil:
		return resp, true
	case errors.Is(err, cache.ErrNotFound):
		return nil, false
	default:
		e.Log().WithError(err).WithFields(logrus.Fields{
			"action": "cache_match",
			"key":    key.String(),
		}).Warn("cache_get_failed")
		return nil, false
	}
}

// RecoveryApplies 判断 req 是否允许使用恢复资源兜底。
func (e Env) RecoveryApplies(req *network.Request) bool {
	if e.Recovery == nil {
		return false
	}
	if e.RecoveryScope == RecoveryScopeNavigate {
		return req.Navigate
	}
	return true
}
