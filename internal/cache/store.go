package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Registry 管理按名称区分的缓存仓库集合，所有实现都必须支持并发读写。
//
// 仓库名称只在存储边界以字符串出现，业务层统一使用 StoreName/Generation。
type Registry interface {
	// Open 幂等地打开仓库：不存在时创建，存在时直接返回。
	Open(ctx context.Context, name StoreName) (Store, error)

	// Match 依次在 names 指定的仓库中查找 key；names 为空时按名称顺序搜索全部仓库。
	// 未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key, names ...string) (*Response, error)

	// Delete 删除整个仓库，仓库不存在时返回 false 且不报错。
	Delete(ctx context.Context, name string) (bool, error)

	// Names 返回当前持久化的全部仓库名称（已排序）。
	Names(ctx context.Context) ([]string, error)

	// Close 释放底层资源。
	Close() error
}

// Store 是单个版本化仓库，条目写入为整键替换，并发写同一 key 时后写者胜出。
type Store interface {
	Name() string
	Put(ctx context.Context, key Key, resp *Response) error
	Match(ctx context.Context, key Key) (*Response, error)
	Keys(ctx context.Context) ([]Key, error)
}

// ErrNotFound 表示缓存未命中，是正常的否定结果。
var ErrNotFound = errors.New("cache entry not found")

// ErrUnsafeMethod 表示请求方法不可缓存（仅 GET 可作为缓存键）。
var ErrUnsafeMethod = errors.New("method is not retrieval-safe")

// Key 唯一定位仓库中的一个条目：请求方法 + 绝对 URL。
type Key struct {
	Method string
	URL    string
}

// NewKey 构建缓存键，非 GET 请求直接拒绝。
func NewKey(method string, u *url.URL) (Key, error) {
	if method != http.MethodGet {
		return Key{}, fmt.Errorf("%w: %s", ErrUnsafeMethod, method)
	}
	if u == nil {
		return Key{}, errors.New("url required")
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return Key{Method: method, URL: clean.String()}, nil
}

// String 返回键的存储形式，例如 "GET https://app.local/static/a.png"。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Response 是缓存时刻的响应快照。快照一经存储即不可变，
// 读写两侧都通过 Clone 传递独立副本。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Clone 返回与原值不共享任何内存的深拷贝。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		StoredAt:   r.StoredAt,
	}
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return cloned
}

// OK 对应 fetch 语义中的 response.ok（2xx）。
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func snapshotForPut(resp *Response) *Response {
	stored := resp.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	return stored
}

func validEntry(key Key, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	if key.Method != http.MethodGet {
		return fmt.Errorf("%w: %s", ErrUnsafeMethod, key.Method)
	}
	if key.URL == "" {
		return errors.New("key url required")
	}
	return nil
}
