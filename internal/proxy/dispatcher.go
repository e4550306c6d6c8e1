package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/classify"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
	"github.com/abogadovillegasminero-blip/bless/internal/strategy"
	_ "github.com/abogadovillegasminero-blip/bless/internal/strategy/cachefirst"
	_ "github.com/abogadovillegasminero-blip/bless/internal/strategy/networkfirst"
)

// ReasonUncontrolled 表示尚无版本接管客户端，请求直接透传。
const ReasonUncontrolled classify.Reason = "uncontrolled"

// ErrStrategyMissing 表示分类结果对应的策略未注册。
var ErrStrategyMissing = errors.New("strategy not registered")

// DispatcherOptions 汇集分发器依赖。
type DispatcherOptions struct {
	Registry cache.Registry
	Fetcher  network.Fetcher
	// Origin 是被拦截站点的应用地址，scheme+host 与之相同的请求视为同源。
	Origin        *url.URL
	Rules         classify.Rules
	Recovery      *url.URL
	RecoveryScope strategy.RecoveryScope
	Logger        *logrus.Logger
}

// Result 描述一次拦截的处理结果；Response 为空表示请求应原样透传。
type Result struct {
	Decision classify.Decision
	Outcome  strategy.Outcome
	Response *cache.Response
}

// Dispatcher 对每个请求同步分类，再交给对应策略检索。
type Dispatcher struct {
	opts   DispatcherOptions
	active atomic.Pointer[cache.Generation]
}

// NewDispatcher 构造分发器，在 Claim 之前所有请求都透传。
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Dispatcher{opts: opts}
}

// Claim 令 gen 成为当前生效版本，之后的请求立即按新版本的仓库检索。
func (d *Dispatcher) Claim(gen cache.Generation) {
	claimed := gen
	d.active.Store(&claimed)
	d.opts.Logger.WithFields(logrus.Fields{
		"action":  "claim",
		"prefix":  gen.Prefix,
		"version": gen.Version,
	}).Info("clients_claimed")
}

// Active 返回当前生效版本。
func (d *Dispatcher) Active() (cache.Generation, bool) {
	gen := d.active.Load()
	if gen == nil {
		return cache.Generation{}, false
	}
	return *gen, true
}

// Classify 只做分类，不触碰任何仓库。
func (d *Dispatcher) Classify(req *network.Request) classify.Decision {
	if _, ok := d.Active(); !ok {
		return classify.Decision{Policy: classify.PolicyBypass, Reason: ReasonUncontrolled}
	}
	sameOrigin := d.sameOrigin(req.URL)
	path := network.SitePath(nil, req.URL)
	if sameOrigin {
		// 同源请求已映射到应用地址，按客户端可见的站内路径分类。
		path = network.SitePath(d.opts.Origin, req.URL)
	}
	return classify.Classify(classify.Request{
		Method:     req.Method,
		Path:       path,
		SameOrigin: sameOrigin,
		Navigate:   req.Navigate,
	}, d.opts.Rules)
}

// Intercept 分类并执行对应策略。bypass 直接返回不带响应的 Result；
// 策略全部失败时返回原始错误，绝不伪造成功响应。
func (d *Dispatcher) Intercept(ctx context.Context, req *network.Request) (Result, error) {
	decision := d.Classify(req)
	result := Result{Decision: decision}
	if decision.Policy == classify.PolicyBypass {
		return result, nil
	}

	gen, _ := d.Active()
	meta, ok := strategy.Resolve(string(decision.Policy))
	if !ok {
		return result, fmt.Errorf("%w: %s", ErrStrategyMissing, decision.Policy)
	}

	impl := meta.Factory(strategy.Env{
		Registry:      d.opts.Registry,
		Fetcher:       d.opts.Fetcher,
		Generation:    gen,
		Recovery:      d.opts.Recovery,
		RecoveryScope: d.opts.RecoveryScope,
		Logger:        d.opts.Logger,
	})
	resp, outcome, err := impl.Retrieve(ctx, req)
	result.Outcome = outcome
	result.Response = resp
	return result, err
}

func (d *Dispatcher) sameOrigin(u *url.URL) bool {
	if u == nil || d.opts.Origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, d.opts.Origin.Scheme) && strings.EqualFold(u.Host, d.opts.Origin.Host)
}
