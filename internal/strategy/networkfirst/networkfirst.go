// Package networkfirst 实现文档与动态数据使用的 network-first 检索。
//
// 回退链：网络 → 当前版本缓存 → 恢复资源（默认 /login）→ 原始传输错误。
// HTTP 错误状态码属于网络成功，同样写入缓存并原样返回。
package networkfirst

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/classify"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
	"github.com/abogadovillegasminero-blip/bless/internal/strategy"
)

func init() {
	strategy.MustRegister(strategy.Metadata{
		Key:         string(classify.PolicyNetworkFirst),
		Description: "fetch fresh, fall back to current stores then the recovery resource",
		Factory:     New,
	})
}

// Strategy 实现 strategy.Strategy。
type Strategy struct {
	env strategy.Env
}

// New 构造 network-first 策略。
func New(env strategy.Env) strategy.Strategy {
	return &Strategy{env: env}
}

func (s *Strategy) Retrieve(ctx context.Context, req *network.Request) (*cache.Response, strategy.Outcome, error) {
	key, keyErr := req.Key()

	resp, fetchErr := s.env.Fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		if keyErr == nil {
			_ = s.env.RuntimeWriter().Put(ctx, key, resp)
		}
		return resp, strategy.OutcomeNetwork, nil
	}
	if keyErr != nil {
		return nil, "", fetchErr
	}

	if cached, ok := s.env.MatchCurrent(ctx, key); ok {
		s.logFallback(req, strategy.OutcomeCacheFallback, fetchErr)
		return cached, strategy.OutcomeCacheFallback, nil
	}

	if s.env.RecoveryApplies(req) {
		recoveryKey, err := cache.NewKey(http.MethodGet, s.env.Recovery)
		if err == nil {
			if cached, ok := s.env.MatchCurrent(ctx, recoveryKey); ok {
				s.logFallback(req, strategy.OutcomeRecoveryFallback, fetchErr)
				return cached, strategy.OutcomeRecoveryFallback, nil
			}
		}
	}
	return nil, "", fetchErr
}

func (s *Strategy) logFallback(req *network.Request, outcome strategy.Outcome, cause error) {
	path := ""
	if req.URL != nil {
		path = req.URL.Path
	}
	s.env.Log().WithError(cause).WithFields(logrus.Fields{
		"action":   "network_first",
		"path":     path,
		"outcome":  string(outcome),
		"navigate": req.Navigate,
	}).Warn("network_unavailable_fallback")
}
