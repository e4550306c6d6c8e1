package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/lifecycle"
	"github.com/abogadovillegasminero-blip/bless/internal/metrics"
	_ "github.com/abogadovillegasminero-blip/bless/internal/strategy/cachefirst"
	_ "github.com/abogadovillegasminero-blip/bless/internal/strategy/networkfirst"
)

type fakeLifecycle struct {
	gen   cache.Generation
	state lifecycle.State
	err   error
}

func (f fakeLifecycle) Generation() cache.Generation { return f.gen }
func (f fakeLifecycle) State() lifecycle.State       { return f.state }
func (f fakeLifecycle) LastError() error             { return f.err }

func TestStrategiesEndpointListsRegisteredStrategies(t *testing.T) {
	app := fiber.New()
	Register(app, Deps{})

	var payload struct {
		Strategies []strategyPayload `json:"strategies"`
	}
	getJSON(t, app, "/-/strategies", &payload)
	if len(payload.Strategies) < 2 {
		t.Fatalf("expected both strategies, got %+v", payload.Strategies)
	}
	if payload.Strategies[0].Key != "cache-first" || payload.Strategies[1].Key != "network-first" {
		t.Fatalf("strategies should be sorted by key, got %+v", payload.Strategies)
	}
}

func TestCachesEndpointReportsStoresAndState(t *testing.T) {
	ctx := context.Background()
	gen := cache.Generation{Prefix: "bless", Version: "v2"}
	registry := cache.NewMemoryRegistry()
	store, err := registry.Open(ctx, gen.Static())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	u, _ := url.Parse("https://app.local/static/manifest.json")
	key, _ := cache.NewKey(http.MethodGet, u)
	if err := store.Put(ctx, key, &cache.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("{}")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := registry.Open(ctx, cache.Generation{Prefix: "bless", Version: "v1"}.Runtime()); err != nil {
		t.Fatalf("open old store: %v", err)
	}

	app := fiber.New()
	Register(app, Deps{
		Registry: registry,
		Lifecycle: fakeLifecycle{
			gen:   gen,
			state: lifecycle.StateInstalled,
			err:   errors.New("precache failed"),
		},
	})

	var payload cachesPayload
	getJSON(t, app, "/-/caches", &payload)
	if payload.State != "installed" || payload.LastError != "precache failed" {
		t.Fatalf("unexpected lifecycle fields: %+v", payload)
	}
	if payload.Generation.Static != "bless-static-v2" {
		t.Fatalf("unexpected generation: %+v", payload.Generation)
	}
	if len(payload.Stores) != 2 {
		t.Fatalf("expected 2 stores, got %+v", payload.Stores)
	}
	for _, s := range payload.Stores {
		switch s.Name {
		case "bless-static-v2":
			if !s.Current || s.Entries != 1 {
				t.Fatalf("current static store should report 1 entry: %+v", s)
			}
		case "bless-runtime-v1":
			if s.Current || s.Entries != 0 {
				t.Fatalf("obsolete store should not be current: %+v", s)
			}
		default:
			t.Fatalf("unexpected store %s", s.Name)
		}
	}
}

func TestStatsEndpointReturnsQuantiles(t *testing.T) {
	tracker := metrics.NewLatencyTracker(0)
	tracker.Record(metrics.Operation("cache-first", "cache_hit"), 3*time.Millisecond)

	app := fiber.New()
	Register(app, Deps{Latency: tracker})

	var payload struct {
		Operations []metrics.Stats `json:"operations"`
	}
	getJSON(t, app, "/-/stats", &payload)
	if len(payload.Operations) != 1 || payload.Operations[0].Operation != "cache-first/cache_hit" {
		t.Fatalf("unexpected stats payload: %+v", payload.Operations)
	}
	if payload.Operations[0].Count != 1 {
		t.Fatalf("expected one sample, got %+v", payload.Operations[0])
	}
}

func getJSON(t *testing.T, app *fiber.App, path string, out any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for %s, got %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}
