package routes

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/lifecycle"
	"github.com/abogadovillegasminero-blip/bless/internal/metrics"
	"github.com/abogadovillegasminero-blip/bless/internal/strategy"
)

// LifecycleStatus 暴露生命周期当前状态，由 lifecycle.Manager 实现。
type LifecycleStatus interface {
	Generation() cache.Generation
	State() lifecycle.State
	LastError() error
}

// Deps 汇集诊断接口需要读取的组件。
type Deps struct {
	Registry  cache.Registry
	Lifecycle LifecycleStatus
	Latency   *metrics.LatencyTracker
}

// Register 暴露 /-/strategies、/-/caches 与 /-/stats 诊断接口，供运维排查缓存状态。
func Register(app *fiber.App, deps Deps) {
	if app == nil {
		return
	}

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"strategies": encodeStrategies(strategy.List())})
	})

	app.Get("/-/caches", func(c fiber.Ctx) error {
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		payload, err := buildCachesPayload(ctx, deps)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_listing_failed"})
		}
		return c.JSON(payload)
	})

	app.Get("/-/stats", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"operations": deps.Latency.AllStats()})
	})
}

type strategyPayload struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

type generationPayload struct {
	Prefix  string `json:"prefix"`
	Version string `json:"version"`
	Static  string `json:"static"`
	Runtime string `json:"runtime"`
}

type storePayload struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
	Entries int    `json:"entries"`
}

type cachesPayload struct {
	Generation generationPayload `json:"generation"`
	State      string            `json:"state"`
	LastError  string            `json:"last_error,omitempty"`
	Stores     []storePayload    `json:"stores"`
}

func encodeStrategies(list []strategy.Metadata) []strategyPayload {
	result := make([]strategyPayload, 0, len(list))
	for _, meta := range list {
		result = append(result, strategyPayload{Key: meta.Key, Description: meta.Description})
	}
	return result
}

func buildCachesPayload(ctx context.Context, deps Deps) (cachesPayload, error) {
	var payload cachesPayload
	var gen cache.Generation
	if deps.Lifecycle != nil {
		gen = deps.Lifecycle.Generation()
		payload.State = string(deps.Lifecycle.State())
		if err := deps.Lifecycle.LastError(); err != nil {
			payload.LastError = err.Error()
		}
	}
	payload.Generation = generationPayload{
		Prefix:  gen.Prefix,
		Version: gen.Version,
		Static:  gen.Static().String(),
		Runtime: gen.Runtime().String(),
	}
	payload.Stores = []storePayload{}

	if deps.Registry == nil {
		return payload, nil
	}
	names, err := deps.Registry.Names(ctx)
	if err != nil {
		return payload, err
	}
	for _, name := range names {
		item := storePayload{Name: name, Current: gen.IsCurrent(name)}
		if parsed, err := cache.ParseStoreName(gen.Prefix, name); err == nil {
			store, err := deps.Registry.Open(ctx, parsed)
			if err != nil {
				return payload, err
			}
			keys, err := store.Keys(ctx)
			if err != nil {
				return payload, err
			}
			item.Entries = len(keys)
		} else {
			item.Entries = -1
		}
		payload.Stores = append(payload.Stores, item)
	}
	return payload, nil
}
