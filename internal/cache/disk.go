package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const entrySuffix = ".resp"

// NewDiskRegistry 以 basePath 为根目录构建磁盘仓库，整站复用一份实例。
// 磁盘布局：
//
//	<basePath>/<store-name>/<sha1(key)>.resp
//
// 每个条目文件首行为缓存键，其后是 HTTP/1.1 报文形式的响应快照。
func NewDiskRegistry(basePath string) (Registry, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &diskRegistry{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// diskRegistry 通过 entryLock 避免同一条目并发写入，仓库目录之间互不影响。
type diskRegistry struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type diskStore struct {
	registry *diskRegistry
	name     string
	dir      string
}

func (r *diskRegistry) Open(ctx context.Context, name StoreName) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := r.storeDir(name.String())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	return &diskStore{registry: r, name: name.String(), dir: dir}, nil
}

func (r *diskRegistry) Match(ctx context.Context, key Key, names ...string) (*Response, error) {
	if len(names) == 0 {
		all, err := r.Names(ctx)
		if err != nil {
			return nil, err
		}
		names = all
	}
	for _, name := range names {
		dir, err := r.storeDir(name)
		if err != nil {
			continue
		}
		store := &diskStore{registry: r, name: name, dir: dir}
		resp, err := store.Match(ctx, key)
		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, ErrNotFound):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (r *diskRegistry) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := r.storeDir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (r *diskRegistry) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (r *diskRegistry) Close() error {
	return nil
}

func (r *diskRegistry) storeDir(name string) (string, error) {
	if err := validStoreName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(r.basePath, name)
	if filepath.Dir(dir) != r.basePath {
		return "", errors.New("invalid store path")
	}
	return dir, nil
}

func (r *diskRegistry) lockEntry(lockKey string) func() {
	r.mu.Lock()
	lock := r.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		r.locks[lockKey] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, lockKey)
		}
		r.mu.Unlock()
	}
}

func (s *diskStore) Name() string {
	return s.name
}

func (s *diskStore) Put(ctx context.Context, key Key, resp *Response) error {
	if err := validEntry(key, resp); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := snapshotForPut(resp)

	filePath := s.entryPath(key)
	unlock := s.registry.lockEntry(filePath)
	defer unlock()

	// 仓库被激活清理删除后不再重建目录，过期版本的迟到写入直接失败。
	tempFile, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return fmt.Errorf("store %s: %w", s.name, err)
	}
	tempName := tempFile.Name()

	err = encodeEntry(tempFile, key, stored)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return os.Chtimes(filePath, stored.StoredAt, stored.StoredAt)
}

func (s *diskStore) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath := s.entryPath(key)
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	storedKey, resp, err := decodeEntry(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	if storedKey != key {
		return nil, ErrNotFound
	}
	resp.StoredAt = info.ModTime().UTC()
	return resp, nil
}

func (s *diskStore) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]Key, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), entrySuffix) {
			continue
		}
		key, err := readEntryKey(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}

func (s *diskStore) entryPath(key Key) string {
	sum := sha1.Sum([]byte(key.String()))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+entrySuffix)
}

func encodeEntry(w io.Writer, key Key, resp *Response) error {
	if _, err := io.WriteString(w, key.String()+"\n"); err != nil {
		return err
	}
	wire := &http.Response{
		StatusCode:    resp.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
	}
	if wire.Header == nil {
		wire.Header = http.Header{}
	}
	return wire.Write(w)
}

func decodeEntry(r io.Reader) (Key, *Response, error) {
	br := bufio.NewReader(r)
	key, err := parseKeyLine(br)
	if err != nil {
		return Key{}, nil, err
	}
	wire, err := http.ReadResponse(br, nil)
	if err != nil {
		return Key{}, nil, err
	}
	defer wire.Body.Close()
	body, err := io.ReadAll(wire.Body)
	if err != nil {
		return Key{}, nil, err
	}
	return key, &Response{
		StatusCode: wire.StatusCode,
		Header:     wire.Header,
		Body:       body,
	}, nil
}

func readEntryKey(path string) (Key, error) {
	f, err := os.Open(path)
	if err != nil {
		return Key{}, err
	}
	defer f.Close()
	return parseKeyLine(bufio.NewReader(f))
}

func parseKeyLine(br *bufio.Reader) (Key, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return Key{}, fmt.Errorf("read key line: %w", err)
	}
	method, rawURL, ok := strings.Cut(strings.TrimSuffix(line, "\n"), " ")
	if !ok {
		return Key{}, fmt.Errorf("malformed key line %q", line)
	}
	return Key{Method: method, URL: rawURL}, nil
}
