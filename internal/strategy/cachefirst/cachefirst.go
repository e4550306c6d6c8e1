// Package cachefirst 实现静态资源使用的 cache-first 检索：命中即返回，未命中回源并写入 runtime 仓库。
package cachefirst

import (
	"context"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/classify"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
	"github.com/abogadovillegasminero-blip/bless/internal/strategy"
)

func init() {
	strategy.MustRegister(strategy.Metadata{
		Key:         string(classify.PolicyCacheFirst),
		Description: "serve from current stores, fetch and store into runtime on miss",
		Factory:     New,
	})
}

// Strategy 实现 strategy.Strategy。
type Strategy struct {
	env strategy.Env
}

// New 构造 cache-first 策略。
func New(env strategy.Env) strategy.Strategy {
	return &Strategy{env: env}
}

// Retrieve 命中时不发起网络请求也不写缓存；未命中时回源，传输失败直接向上返回。
func (s *Strategy) Retrieve(ctx context.Context, req *network.Request) (*cache.Response, strategy.Outcome, error) {
	key, keyErr := req.Key()
	if keyErr == nil {
		if cached, ok := s.env.MatchCurrent(ctx, key); ok {
			return cached, strategy.OutcomeCacheHit, nil
		}
	}

	resp, err := s.env.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if keyErr == nil {
		_ = s.env.RuntimeWriter().Put(ctx, key, resp)
	}
	return resp, strategy.OutcomeNetwork, nil
}
