package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/abogadovillegasminero-blip/bless/internal/config"
	"github.com/abogadovillegasminero-blip/bless/internal/lifecycle"
)

type originServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newOriginServer(t *testing.T) *originServer {
	t.Helper()
	o := &originServer{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "origin "+r.URL.Path)
	}))
	t.Cleanup(o.Close)
	return o
}

func TestServiceActivatesAndServesPrecachedAssetsOffline(t *testing.T) {
	origin := newOriginServer(t)
	storage := t.TempDir()

	svc, err := newService(context.Background(), serviceConfig(storage, origin.URL, "v2"), quietLogger())
	if err != nil {
		t.Fatalf("newService 失败: %v", err)
	}
	defer svc.Close()

	if svc.manager.State() != lifecycle.StateActivated {
		t.Fatalf("启动后应处于 activated，得到 %s", svc.manager.State())
	}
	if got := origin.hits.Load(); got != int64(len(config.DefaultPrecache)) {
		t.Fatalf("预缓存应请求 %d 次，得到 %d", len(config.DefaultPrecache), got)
	}

	origin.Close()

	req := httptest.NewRequest(http.MethodGet, "http://bless.local/static/manifest.json", nil)
	resp, err := svc.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "origin /static/manifest.json" {
		t.Fatalf("离线时应从预缓存返回，得到 %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Swcache-Outcome") != "cache_hit" {
		t.Fatalf("应命中缓存，得到 %q", resp.Header.Get("X-Swcache-Outcome"))
	}
}

func TestServiceNewVersionSweepsPreviousStores(t *testing.T) {
	origin := newOriginServer(t)
	storage := t.TempDir()
	ctx := context.Background()

	first, err := newService(ctx, serviceConfig(storage, origin.URL, "v1"), quietLogger())
	if err != nil {
		t.Fatalf("v1 启动失败: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("关闭 v1 失败: %v", err)
	}

	second, err := newService(ctx, serviceConfig(storage, origin.URL, "v2"), quietLogger())
	if err != nil {
		t.Fatalf("v2 启动失败: %v", err)
	}
	defer second.Close()

	names, err := second.registry.Names(ctx)
	if err != nil {
		t.Fatalf("列出仓库失败: %v", err)
	}
	for _, name := range names {
		if name == "bless-static-v1" || name == "bless-runtime-v1" {
			t.Fatalf("旧版本仓库应被清理，仍存在 %s", name)
		}
	}

	resp, err := second.app.Test(httptest.NewRequest(http.MethodGet, "http://bless.local/-/caches", nil))
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	var payload struct {
		State      string `json:"state"`
		Generation struct {
			Version string `json:"version"`
		} `json:"generation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("解析诊断输出失败: %v", err)
	}
	if payload.State != "activated" || payload.Generation.Version != "v2" {
		t.Fatalf("诊断接口应反映 v2 激活状态，得到 %+v", payload)
	}
}

func TestServiceStaysUncontrolledWhenStrictPrecacheFails(t *testing.T) {
	origin := newOriginServer(t)
	cfg := serviceConfig(t.TempDir(), origin.URL, "v2")
	cfg.Cache.PrecacheStrict = true
	origin.Close()

	svc, err := newService(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("严格模式失败不应阻止服务启动: %v", err)
	}
	defer svc.Close()

	if svc.manager.State() != lifecycle.StateRedundant {
		t.Fatalf("严格预缓存失败应进入 redundant，得到 %s", svc.manager.State())
	}
	resp, err := svc.app.Test(httptest.NewRequest(http.MethodGet, "http://bless.local/static/app.css", nil))
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	if resp.Header.Get("X-Swcache-Policy") != "bypass" {
		t.Fatalf("未激活时请求应透传，得到 %q", resp.Header.Get("X-Swcache-Policy"))
	}
}

func TestServiceWithPathPrefixedUpstreamServesPrecacheOffline(t *testing.T) {
	origin := newOriginServer(t)
	cfg := serviceConfig(t.TempDir(), origin.URL+"/app", "v2")
	cfg.Cache.Precache = append(append([]string(nil), config.DefaultPrecache...), "/login")

	svc, err := newService(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("newService 失败: %v", err)
	}
	defer svc.Close()
	if svc.manager.State() != lifecycle.StateActivated {
		t.Fatalf("启动后应处于 activated，得到 %s (%v)", svc.manager.State(), svc.manager.LastError())
	}

	origin.Close()

	resp, err := svc.app.Test(httptest.NewRequest(http.MethodGet, "http://bless.local/static/manifest.json", nil))
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "origin /app/static/manifest.json" {
		t.Fatalf("带路径前缀的上游也应命中预缓存，得到 %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Swcache-Policy") != "cache-first" || resp.Header.Get("X-Swcache-Outcome") != "cache_hit" {
		t.Fatalf("静态资源应按 cache-first 命中，得到 %q/%q",
			resp.Header.Get("X-Swcache-Policy"), resp.Header.Get("X-Swcache-Outcome"))
	}

	req := httptest.NewRequest(http.MethodGet, "http://bless.local/reports", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	resp, err = svc.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "origin /app/login" {
		t.Fatalf("离线导航应返回预缓存的恢复资源，得到 %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Swcache-Outcome") != "recovery_fallback" {
		t.Fatalf("应走恢复资源兜底，得到 %q", resp.Header.Get("X-Swcache-Outcome"))
	}
}

func TestServiceSweepLeavesOtherStorageDirectories(t *testing.T) {
	origin := newOriginServer(t)
	storage := t.TempDir()
	logFile := filepath.Join(storage, "logs", "swcache.log")
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		t.Fatalf("创建日志目录失败: %v", err)
	}
	if err := os.WriteFile(logFile, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("写入日志失败: %v", err)
	}

	for _, version := range []string{"v1", "v2"} {
		svc, err := newService(context.Background(), serviceConfig(storage, origin.URL, version), quietLogger())
		if err != nil {
			t.Fatalf("%s 启动失败: %v", version, err)
		}
		if svc.manager.State() != lifecycle.StateActivated {
			t.Fatalf("%s 应激活，得到 %s", version, svc.manager.State())
		}
		_ = svc.Close()
	}

	if _, err := os.Stat(logFile); err != nil {
		t.Fatalf("激活清理不应删除仓库目录之外的文件: %v", err)
	}
}
