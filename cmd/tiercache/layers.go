package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	promhooks "github.com/unkn0wn-root/tiercache/hooks/prometheus"
	"github.com/unkn0wn-root/tiercache/internal/config"
	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/layer/bigcache"
	"github.com/unkn0wn-root/tiercache/layer/memory"
	"github.com/unkn0wn-root/tiercache/layer/origin"
	"github.com/unkn0wn-root/tiercache/layer/redis"
	"github.com/unkn0wn-root/tiercache/layer/ristretto"
	"github.com/unkn0wn-root/tiercache/layer/sqlite"
	tlogrus "github.com/unkn0wn-root/tiercache/log/logrus"
)

// ristretto wants roughly ten counters per expected item; assume 1KiB items.
const ristrettoAvgItem = 1 << 10

// buildLayers assembles the tiers fastest first. On error every layer already
// built is closed.
func buildLayers(ctx context.Context, cfg *config.Config, logger *logrus.Logger, metrics *promhooks.Hooks) (layers []layer.Layer, err error) {
	defer func() {
		if err != nil {
			closeLayers(context.Background(), layers, logger)
			layers = nil
		}
	}()

	mem, err := buildMemory(cfg.Memory)
	if err != nil {
		return layers, fmt.Errorf("memory layer: %w", err)
	}
	layers = append(layers, mem)

	if cfg.Redis.Enabled() {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("redis unreachable at startup")
		}
		rl, err := redis.New(redis.Config{
			Client:      client,
			Namespace:   cfg.Redis.Namespace,
			TTL:         cfg.Redis.TTL.DurationValue(),
			CloseClient: true,
		})
		if err != nil {
			_ = client.Close()
			return layers, fmt.Errorf("redis layer: %w", err)
		}
		layers = append(layers, rl)
	}

	var onEvict func(string, int64)
	if metrics != nil {
		onEvict = metrics.OnEvict("sqlite")
	}
	sl, err := sqlite.Open(ctx, sqlite.Config{
		Path:      cfg.Persistent.Path,
		SizeLimit: cfg.Persistent.SizeLimit,
		Logger:    tlogrus.New(logger),
		OnEvict:   onEvict,
	})
	if err != nil {
		return layers, fmt.Errorf("sqlite layer: %w", err)
	}
	layers = append(layers, sl)

	if cfg.Origin.Enabled() {
		ol, err := origin.New(origin.Config{
			Client:              origin.NewClient(cfg.Origin.Timeout.DurationValue()),
			BaseURL:             cfg.Origin.BaseURL,
			AllowedContentTypes: cfg.Origin.AllowedContentTypes,
			MaxBytes:            cfg.Origin.MaxBytes,
		})
		if err != nil {
			return layers, fmt.Errorf("origin layer: %w", err)
		}
		layers = append(layers, ol)
	}
	return layers, nil
}

func buildMemory(cfg config.MemoryConfig) (layer.Layer, error) {
	switch cfg.Backend {
	case "bigcache":
		return bigcache.New(bigcache.Config{
			LifeWindow:         cfg.LifeWindow.DurationValue(),
			Shards:             cfg.Shards,
			HardMaxCacheSizeMB: cfg.MaxSizeMB,
		})
	case "ristretto":
		maxCost := int64(cfg.MaxSizeMB) << 20
		return ristretto.New(ristretto.Config{
			NumCounters: 10 * maxCost / ristrettoAvgItem,
			MaxCost:     maxCost,
		})
	default:
		return memory.New(memory.Config{Shards: cfg.Shards}), nil
	}
}

func closeLayers(ctx context.Context, layers []layer.Layer, logger *logrus.Logger) {
	for _, l := range layers {
		if err := l.Close(ctx); err != nil {
			logger.WithError(err).WithField("layer", l.Name()).Warn("close layer")
		}
	}
}
