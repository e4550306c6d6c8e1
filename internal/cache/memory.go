package cache

import (
	"context"
	"sort"
	"sync"
)

// NewMemoryRegistry 返回纯内存实现，进程退出后数据即丢失，主要用于测试与临时部署。
func NewMemoryRegistry() Registry {
	return &memoryRegistry{stores: make(map[string]*memoryStore)}
}

type memoryRegistry struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

type memoryStore struct {
	name    string
	mu      sync.RWMutex
	entries map[Key]*Response
}

func (r *memoryRegistry) Open(ctx context.Context, name StoreName) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw := name.String()
	if err := validStoreName(raw); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok := r.stores[raw]; ok {
		return store, nil
	}
	store := &memoryStore{name: raw, entries: make(map[Key]*Response)}
	r.stores[raw] = store
	return store, nil
}

func (r *memoryRegistry) Match(ctx context.Context, key Key, names ...string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		all, err := r.Names(ctx)
		if err != nil {
			return nil, err
		}
		names = all
	}
	for _, name := range names {
		r.mu.RLock()
		store := r.stores[name]
		r.mu.RUnlock()
		if store == nil {
			continue
		}
		if resp, err := store.Match(ctx, key); err == nil {
			return resp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRegistry) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[name]; !ok {
		return false, nil
	}
	delete(r.stores, name)
	return true, nil
}

func (r *memoryRegistry) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *memoryRegistry) Close() error {
	return nil
}

func (s *memoryStore) Name() string {
	return s.name
}

func (s *memoryStore) Put(ctx context.Context, key Key, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validEntry(key, resp); err != nil {
		return err
	}
	stored := snapshotForPut(resp)
	s.mu.Lock()
	s.entries[key] = stored
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	resp, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return resp.Clone(), nil
}

func (s *memoryStore) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
