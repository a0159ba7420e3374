package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/anoixa/image-proxy/cache/types"
	"github.com/dgraph-io/ristretto"
)

// Ristretto 基于 TinyLFU 准入策略的内存缓存, 每个条目成本为 1
type Ristretto struct {
	client *ristretto.Cache
}

// NewRistretto 创建最多容纳约 capacity 个条目的 Ristretto 缓存
func NewRistretto(capacity int) (*Ristretto, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ristretto capacity must be positive, got %d", capacity)
	}

	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &Ristretto{client: client}, nil
}

// Get 获取缓存项
func (r *Ristretto) Get(_ context.Context, key string) (string, error) {
	value, found := r.client.Get(key)
	if !found {
		return "", types.ErrCacheMiss
	}
	s, ok := value.(string)
	if !ok {
		return "", types.ErrCacheMiss
	}
	return s, nil
}

// Set 设置缓存项
func (r *Ristretto) Set(_ context.Context, key, value string, expiration time.Duration) error {
	var set bool
	if expiration > 0 {
		set = r.client.SetWithTTL(key, value, 1, expiration)
	} else {
		set = r.client.Set(key, value, 1)
	}
	if set {
		// 等待值被实际设置
		r.client.Wait()
	}
	return nil
}

// Close 关闭缓存
func (r *Ristretto) Close() error {
	r.client.Close()
	return nil
}

// Name 返回缓存提供者名称
func (r *Ristretto) Name() string {
	return "ristretto"
}
