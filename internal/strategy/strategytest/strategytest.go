// Package strategytest 提供策略与分发器测试共用的网络桩和计数仓库。
package strategytest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
)

// ErrOffline 模拟网络不可达时的底层错误。
var ErrOffline = errors.New("network unreachable")

// Network 是按 URL 路径应答的 Fetcher 桩，未登记的路径或离线状态返回 *network.TransportError。
type Network struct {
	mu        sync.Mutex
	responses map[string]*cache.Response
	offline   bool
	calls     atomic.Int64
	paths     []string
}

// NewNetwork 构造一个空的网络桩。
func NewNetwork() *Network {
	return &Network{responses: make(map[string]*cache.Response)}
}

// Serve 登记 path 的响应。
func (n *Network) Serve(path string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[path] = &cache.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
	}
}

// SetOffline 切换离线状态。
func (n *Network) SetOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

// Calls 返回 Fetch 被调用的次数。
func (n *Network) Calls() int {
	return int(n.calls.Load())
}

// Paths 返回依次请求过的路径。
func (n *Network) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

func (n *Network) Fetch(ctx context.Context, req *network.Request) (*cache.Response, error) {
	n.calls.Add(1)
	n.mu.Lock()
	defer n.mu.Unlock()

	target, path := "", ""
	if req.URL != nil {
		target, path = req.URL.String(), req.URL.Path
	}
	n.paths = append(n.paths, path)
	if n.offline {
		return nil, &network.TransportError{Method: req.Method, URL: target, Err: ErrOffline}
	}
	resp, ok := n.responses[path]
	if !ok {
		return nil, &network.TransportError{Method: req.Method, URL: target, Err: ErrOffline}
	}
	return resp.Clone(), nil
}

// Registry 包装任意 cache.Registry 并统计读写次数。
type Registry struct {
	cache.Registry
	puts    atomic.Int64
	matches atomic.Int64
	opens   atomic.Int64
}

// NewRegistry 包装 inner；inner 为空时使用内存仓库。
func NewRegistry(inner cache.Registry) *Registry {
	if inner == nil {
		inner = cache.NewMemoryRegistry()
	}
	return &Registry{Registry: inner}
}

// Puts 返回写入次数。
func (r *Registry) Puts() int { return int(r.puts.Load()) }

// Matches 返回查找次数（含 Store.Match）。
func (r *Registry) Matches() int { return int(r.matches.Load()) }

// Opens 返回打开仓库的次数。
func (r *Registry) Opens() int { return int(r.opens.Load()) }

// Touched 表示仓库是否发生过任何读写。
func (r *Registry) Touched() bool {
	return r.Puts() > 0 || r.Matches() > 0 || r.Opens() > 0
}

func (r *Registry) Open(ctx context.Context, name cache.StoreName) (cache.Store, error) {
	r.opens.Add(1)
	store, err := r.Registry.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingStore{Store: store, owner: r}, nil
}

func (r *Registry) Match(ctx context.Context, key cache.Key, names ...string) (*cache.Response, error) {
	r.matches.Add(1)
	return r.Registry.Match(ctx, key, names...)
}

type countingStore struct {
	cache.Store
	owner *Registry
}

func (s *countingStore) Put(ctx context.Context, key cache.Key, resp *cache.Response) error {
	s.owner.puts.Add(1)
	return s.Store.Put(ctx, key, resp)
}

func (s *countingStore) Match(ctx context.Context, key cache.Key) (*cache.Response, error) {
	s.owner.matches.Add(1)
	return s.Store.Match(ctx, key)
}

// Seed 直接向 name 仓库写入 rawURL 的响应，不计入统计。
func Seed(ctx context.Context, registry cache.Registry, name cache.StoreName, rawURL string, status int, body string) error {
	if counting, ok := registry.(*Registry); ok {
		registry = counting.Registry
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	key, err := cache.NewKey(http.MethodGet, u)
	if err != nil {
		return err
	}
	store, err := registry.Open(ctx, name)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, &cache.Response{StatusCode: status, Header: http.Header{}, Body: []byte(body)})
}

// Request 构造指向 rawURL 的 GET 请求。
func Request(rawURL string, navigate bool) *network.Request {
	u, _ := url.Parse(rawURL)
	return &network.Request{Method: http.MethodGet, URL: u, Header: http.Header{}, Navigate: navigate}
}
