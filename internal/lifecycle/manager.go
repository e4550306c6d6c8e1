package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
)

// State 描述当前版本在生命周期中的位置。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// LockFileName 是跨进程生命周期锁在 StoragePath 下的文件名。
const LockFileName = ".lifecycle.lock"

const (
	defaultPrecacheConcurrency = 4
	lockRetryDelay             = 50 * time.Millisecond
)

// Claimer 在清理完成后接管已打开的客户端，使新版本立即生效。
type Claimer interface {
	Claim(gen cache.Generation)
}

// Options 汇集 Manager 的全部依赖。
type Options struct {
	Registry   cache.Registry
	Fetcher    network.Fetcher
	Generation cache.Generation
	// Manifest 为预缓存路径列表（以 / 开头），相对 Origin 解析。
	Manifest []string
	Origin   *url.URL
	// Strict 为 true 时预缓存失败会中止安装，版本进入 redundant。
	Strict  bool
	Claimer Claimer
	// LockPath 非空时，每次状态迁移都持有该文件锁。
	LockPath    string
	Concurrency int
	Logger      *logrus.Logger
}

// Manager 编排 install/activate 两次迁移。迁移之间互斥，且各自可以安全地重复执行。
type Manager struct {
	opts Options

	transition sync.Mutex

	mu          sync.RWMutex
	state       State
	skipWaiting bool
	lastErr     error
}

// NewManager 构造生命周期管理器，初始状态为 parsed。
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultPrecacheConcurrency
	}
	return &Manager{opts: opts, state: StateParsed}
}

// Generation 返回管理器负责的版本。
func (m *Manager) Generation() cache.Generation {
	return m.opts.Generation
}

// State 返回当前状态。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SkipWaiting 表示安装完成后是否已请求立即激活。
func (m *Manager) SkipWaiting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipWaiting
}

// LastError 返回最近一次迁移记录的错误（含被宽松策略吞掉的预缓存失败）。
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Run 依次执行 Install 与 Activate；严格模式下安装失败则不再激活。
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Install(ctx); err != nil {
		return err
	}
	return m.Activate(ctx)
}

// Install 打开新版本的 static 仓库并整批预缓存清单中的资源。
// 任一条目传输失败或返回非 2xx，整批都不写入。
func (m *Manager) Install(ctx context.Context) error {
	unlock, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	m.setState(StateInstalling, nil)
	started := time.Now()
	name := m.opts.Generation.Static()

	store, err := m.opts.Registry.Open(ctx, name)
	if err != nil {
		err = fmt.Errorf("open store %s: %w", name, err)
		m.setState(StateRedundant, err)
		return err
	}

	populateErr := m.precache(ctx, store)
	if populateErr != nil {
		m.opts.Logger.WithError(populateErr).WithFields(logrus.Fields{
			"action":  "install",
			"store":   name.String(),
			"strict":  m.opts.Strict,
			"entries": len(m.opts.Manifest),
		}).Warn("precache_failed")
		if m.opts.Strict {
			m.setState(StateRedundant, populateErr)
			return populateErr
		}
	}

	m.mu.Lock()
	m.state = StateInstalled
	m.skipWaiting = true
	m.lastErr = populateErr
	m.mu.Unlock()

	m.opts.Logger.WithFields(logrus.Fields{
		"action":     "install",
		"store":      name.String(),
		"entries":    len(m.opts.Manifest),
		"precached":  populateErr == nil,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("install_complete")
	return nil
}

// Activate 删除所有不属于当前版本的仓库，然后接管客户端。
// 删除不存在的仓库不是错误；任何删除失败都会使本次激活返回错误且不接管。
func (m *Manager) Activate(ctx context.Context) error {
	unlock, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	previous := m.State()
	m.setState(StateActivating, nil)

	names, err := m.opts.Registry.Names(ctx)
	if err != nil {
		err = fmt.Errorf("list stores: %w", err)
		m.setState(previous, err)
		return err
	}

	var sweepErrs []error
	for _, name := range names {
		if m.opts.Generation.IsCurrent(name) {
			continue
		}
		deleted, err := m.opts.Registry.Delete(ctx, name)
		if err != nil {
			sweepErrs = append(sweepErrs, fmt.Errorf("delete store %s: %w", name, err))
			continue
		}
		if deleted {
			m.opts.Logger.WithFields(logrus.Fields{
				"action": "activate",
				"store":  name,
			}).Info("store_deleted")
		}
	}
	if err := errors.Join(sweepErrs...); err != nil {
		m.setState(previous, err)
		return err
	}

	if m.opts.Claimer != nil {
		m.opts.Claimer.Claim(m.opts.Generation)
	}
	m.mu.Lock()
	m.state = StateActivated
	m.mu.Unlock()

	m.opts.Logger.WithFields(logrus.Fields{
		"action":  "activate",
		"version": m.opts.Generation.Version,
		"stores":  m.opts.Generation.Names(),
	}).Info("activate_complete")
	return nil
}

func (m *Manager) precache(ctx context.Context, store cache.Store) error {
	if len(m.opts.Manifest) == 0 {
		return nil
	}

	type fetched struct {
		key  cache.Key
		resp *cache.Response
	}
	results := make([]fetched, len(m.opts.Manifest))

	var (
		failMu   sync.Mutex
		failures []PrecacheFailure
	)
	fail := func(target string, err error) error {
		failMu.Lock()
		failures = append(failures, PrecacheFailure{URL: target, Err: err})
		failMu.Unlock()
		return err
	}

	var g errgroup.Group
	g.SetLimit(m.opts.Concurrency)
	for i, entry := range m.opts.Manifest {
		g.Go(func() error {
			target, err := network.ResolvePath(m.opts.Origin, entry)
			if err != nil {
				return fail(entry, err)
			}
			req := &network.Request{Method: http.MethodGet, URL: target, Header: http.Header{}}
			key, err := req.Key()
			if err != nil {
				return fail(target.String(), err)
			}
			resp, err := m.opts.Fetcher.Fetch(ctx, req)
			if err != nil {
				return fail(target.String(), err)
			}
			if !resp.OK() {
				return fail(target.String(), &StatusError{StatusCode: resp.StatusCode})
			}
			results[i] = fetched{key: key, resp: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sort.Slice(failures, func(i, j int) bool { return failures[i].URL < failures[j].URL })
		return &PrecacheError{Store: store.Name(), Failures: failures}
	}

	for _, item := range results {
		if err := store.Put(ctx, item.key, item.resp); err != nil {
			return &PrecacheError{
				Store:    store.Name(),
				Failures: []PrecacheFailure{{URL: item.key.URL, Err: err}},
			}
		}
	}
	return nil
}

func (m *Manager) acquire(ctx context.Context) (func(), error) {
	m.transition.Lock()
	if m.opts.LockPath == "" {
		return m.transition.Unlock, nil
	}
	fileLock := flock.New(m.opts.LockPath)
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		m.transition.Unlock()
		if err == nil {
			err = errors.New("lifecycle lock not acquired")
		}
		return nil, fmt.Errorf("lock %s: %w", m.opts.LockPath, err)
	}
	return func() {
		if err := fileLock.Unlock(); err != nil {
			m.opts.Logger.WithError(err).WithField("action", "lifecycle_lock").Warn("unlock_failed")
		}
		m.transition.Unlock()
	}, nil
}

func (m *Manager) setState(state State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	if err != nil {
		m.lastErr = err
	}
}
