package networkfirst

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/classify"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
	"github.com/abogadovillegasminero-blip/bless/internal/strategy"
	"github.com/abogadovillegasminero-blip/bless/internal/strategy/strategytest"
)

var gen = cache.Generation{Prefix: "bless", Version: "v2"}

func newEnv(registry cache.Registry, fetcher network.Fetcher, scope strategy.RecoveryScope) strategy.Env {
	recovery, _ := url.Parse("https://app.local/login")
	return strategy.Env{
		Registry:      registry,
		Fetcher:       fetcher,
		Generation:    gen,
		Recovery:      recovery,
		RecoveryScope: scope,
	}
}

func TestRegisteredUnderPolicyKey(t *testing.T) {
	meta, ok := strategy.Resolve(string(classify.PolicyNetworkFirst))
	if !ok {
		t.Fatalf("network-first should register itself")
	}
	if meta.Description == "" {
		t.Fatalf("description should be set for diagnostics")
	}
}

func TestNetworkSuccessStoresIntoRuntime(t *testing.T) {
	origin := strategytest.NewNetwork()
	origin.Serve("/dashboard", http.StatusOK, "fresh dashboard")
	registry := strategytest.NewRegistry(nil)
	ctx := context.Background()
	if err := strategytest.Seed(ctx, registry, gen.Runtime(), "https://app.local/dashboard", http.StatusOK, "stale dashboard"); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	resp, outcome, err := New(newEnv(registry, origin, strategy.RecoveryScopeAll)).
		Retrieve(ctx, strategytest.Request("https://app.local/dashboard", true))
	if err != nil {
		t.Fatalf("retrieve error: %v", err)
	}
	if outcome != strategy.OutcomeNetwork || string(resp.Body) != "fresh dashboard" {
		t.Fatalf("network response should win over cache: %s %s", outcome, resp.Body)
	}
	stored, err := registry.Match(ctx, mustKey(t, "https://app.local/dashboard"), gen.Runtime().String())
	if err != nil || string(stored.Body) != "fresh dashboard" {
		t.Fatalf("runtime entry should be refreshed: %v", err)
	}
}

func TestErrorStatusReturnedAndCached(t *testing.T) {
	origin := strategytest.NewNetwork()
	origin.Serve("/api/items", http.StatusInternalServerError, "boom")
	registry := strategytest.NewRegistry(nil)
	ctx := context.Background()
	if err := strategytest.Seed(ctx, registry, gen.Static(), "https://app.local/login", http.StatusOK, "login"); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	resp, outcome, err := New(newEnv(registry, origin, strategy.RecoveryScopeAll)).
		Retrieve(ctx, strategytest.Request("https://app.local/api/items", false))
	if err != nil {
		t.Fatalf("5xx is a transport success: %v", err)
	}
	if outcome != strategy.OutcomeNetwork || resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("error status should be returned as-is: %s %d", outcome, resp.StatusCode)
	}
	if registry.Puts() != 1 {
		t.Fatalf("error status should be cached, puts=%d", registry.Puts())
	}
}

func TestOfflineFallsBackToCachedCopy(t *testing.T) {
	origin := strategytest.NewNetwork()
	origin.SetOffline(true)
	registry := strategytest.NewRegistry(nil)
	ctx := context.Background()
	if err := strategytest.Seed(ctx, registry, gen.Runtime(), "https://app.local/dashboard", http.StatusOK, "cached dashboard"); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	if err := strategytest.Seed(ctx, registry, gen.Static(), "https://app.local/login", http.StatusOK, "login"); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	resp, outcome, err := New(newEnv(registry, origin, strategy.RecoveryScopeAll)).
		Retrieve(ctx, strategytest.Request("https://app.local/dashboard", true))
	if err != nil {
		t.Fatalf("retrieve error: %v", err)
	}
	if outcome != strategy.OutcomeCacheFallback || string(resp.Body) != "cached dashboard" {
		t.Fatalf("expected cached copy: %s %s", outcome, resp.Body)
	}
	if registry.Puts() != 0 {
		t.Fatalf("fallback must not write")
	}
}

func TestOfflineFallsBackToRecoveryResource(t *testing.T) {
	origin := strategytest.NewNetwork()
	origin.SetOffline(true)
	registry := strategytest.NewRegistry(nil)
	ctx := context.Background()
	if err := strategytest.Seed(ctx, registry, gen.Static(), "https://app.local/login", http.StatusOK, "login page"); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	resp, outcome, err := New(newEnv(registry, origin, strategy.RecoveryScopeAll)).
		Retrieve(ctx, strategytest.Request("https://app.local/dashboard", true))
	if err != nil {
		t.Fatalf("retrieve error: %v", err)
	}
	if outcome != strategy.OutcomeRecoveryFallback || string(resp.Body) != "login page" {
		t.Fatalf("expected recovery resource: %s %s", outcome, resp.Body)
	}
}

func TestOfflineWithoutAnyCopySurfacesOriginalFailure(t *testing.T) {
	origin := strategytest.NewNetwork()
	origin.SetOffline(true)
	registry := strategytest.NewRegistry(nil)

	resp, _, err := New(newEnv(registry, origin, strategy.RecoveryScopeAll)).
		Retrieve(context.Background(), strategytest.Request("https://app.local/dashboard", true))
	if resp != nil {
		t.Fatalf("no response should be fabricated")
	}
	var transportErr *network.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if transportErr.URL != "https://app.local/dashboard" {
		t.Fatalf("the original failure should be re-raised, got %s", transportErr.URL)
	}
	if origin.Calls() != 1 {
		t.Fatalf("recovery lookup must not fetch, calls=%d", origin.Calls())
	}
}

func TestNavigateScopeSkipsRecoveryForSubresources(t *testing.T) {
	origin := strategytest.NewNetwork()
	origin.SetOffline(true)
	registry := strategytest.NewRegistry(nil)
	ctx := context.Background()
	if err := strategytest.Seed(ctx, registry, gen.Static(), "https://app.local/login", http.StatusOK, "login"); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	s := New(newEnv(registry, origin, strategy.RecoveryScopeNavigate))

	if _, _, err := s.Retrieve(ctx, strategytest.Request("https://app.local/api/items", false)); !network.IsTransportFailure(err) {
		t.Fatalf("subresource should surface the failure under navigate scope, got %v", err)
	}
	_, outcome, err := s.Retrieve(ctx, strategytest.Request("https://app.local/settings", true))
	if err != nil || outcome != strategy.OutcomeRecoveryFallback {
		t.Fatalf("navigation should still use recovery: %s %v", outcome, err)
	}
}

func TestRecoveryFromObsoleteGenerationIgnored(t *testing.T) {
	origin := strategytest.NewNetwork()
	origin.SetOffline(true)
	registry := strategytest.NewRegistry(nil)
	ctx := context.Background()
	old := cache.Generation{Prefix: "bless", Version: "v1"}
	if err := strategytest.Seed(ctx, registry, old.Static(), "https://app.local/login", http.StatusOK, "old login"); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	_, _, err := New(newEnv(registry, origin, strategy.RecoveryScopeAll)).
		Retrieve(ctx, strategytest.Request("https://app.local/dashboard", true))
	if !network.IsTransportFailure(err) {
		t.Fatalf("obsolete stores must not serve as fallback, got %v", err)
	}
}

func mustKey(t *testing.T, raw string) cache.Key {
	t.Helper()
	key, err := strategytest.Request(raw, false).Key()
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	return key
}
