package cache

import (
	"fmt"
	"log/slog"

	"github.com/anoixa/image-proxy/cache/memory"
	"github.com/anoixa/image-proxy/cache/redis"
	"github.com/anoixa/image-proxy/cache/types"
	"github.com/anoixa/image-proxy/config"
)

// NewFromConfig 按配置创建两级缓存
// 未配置 redis_url 时仅使用内存层
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Tiered, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mem, err := newMemoryStore(cfg.CacheMemoryType, cfg.CacheMemoryCapacity)
	if err != nil {
		return nil, err
	}

	var remote types.Store
	if cfg.RedisURL != "" {
		r, err := redis.NewRedis(redis.Config{
			URL:         cfg.RedisURL,
			RequireTLS:  cfg.CacheRedisTLS,
			DialTimeout: cfg.CacheRedisTimeout,
		})
		if err != nil {
			_ = mem.Close()
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		remote = r
		logger.Info("cache tiers ready", "memory", mem.Name(), "capacity", cfg.CacheMemoryCapacity, "remote", r.Name(), "ttl", cfg.CacheTTL)
	} else {
		logger.Warn("redis_url not set, running memory-only cache", "memory", mem.Name(), "capacity", cfg.CacheMemoryCapacity)
	}

	return NewTiered(mem, remote, TieredConfig{
		TTL:          cfg.CacheTTL,
		Timeout:      cfg.CacheRedisTimeout,
		KeyPrefix:    cfg.CacheKeyPrefix,
		KeySeparator: cfg.CacheKeySeparator,
	}, logger), nil
}

func newMemoryStore(kind string, capacity int) (types.Store, error) {
	switch kind {
	case config.MemoryRistretto:
		return memory.NewRistretto(capacity)
	case config.MemoryLRU, "":
		return memory.NewLRU(capacity)
	default:
		return nil, fmt.Errorf("unsupported memory cache type: %s", kind)
	}
}
