package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrStrategyExists 表示同名策略已注册。
var ErrStrategyExists = errors.New("strategy already registered")

// Factory 基于运行环境构造策略实例。
type Factory func(Env) Strategy

// Metadata 记录一个策略的静态信息，供分发器解析与诊断端展示。
type Metadata struct {
	Key         string
	Description string
	Factory     Factory
}

var globalRegistry = newRegistry()

type registry struct {
	mu         sync.RWMutex
	strategies map[string]Metadata
}

func newRegistry() *registry {
	return &registry{strategies: make(map[string]Metadata)}
}

// Register 将策略加入全局注册表，重复键会返回 ErrStrategyExists。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合策略包 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的策略元数据。
func Resolve(key string) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的策略元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册策略的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta Metadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("strategy key is required")
	}
	if meta.Factory == nil {
		return fmt.Errorf("strategy %s: factory is required", key)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[key]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyExists, key)
	}
	r.strategies[key] = meta
	return nil
}

func (r *registry) resolve(key string) (Metadata, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Metadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.strategies[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.strategies) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.strategies))
	for key := range r.strategies {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.strategies[key])
	}
	return result
}
