package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/anoixa/image-proxy/cache/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU 按条目数量淘汰的内存缓存, 最近最少使用的条目先被淘汰
type LRU struct {
	client *lru.Cache[string, string]
}

// NewLRU 创建容量为 capacity 的 LRU 缓存
func NewLRU(capacity int) (*LRU, error) {
	client, err := lru.New[string, string](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &LRU{client: client}, nil
}

// Get 获取缓存项, 命中时刷新其最近使用位置
func (m *LRU) Get(_ context.Context, key string) (string, error) {
	value, ok := m.client.Get(key)
	if !ok {
		return "", types.ErrCacheMiss
	}
	return value, nil
}

// Set 设置缓存项, LRU 层不处理过期时间
func (m *LRU) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.client.Add(key, value)
	return nil
}

// Len 当前条目数
func (m *LRU) Len() int {
	return m.client.Len()
}

// Close 清空缓存
func (m *LRU) Close() error {
	m.client.Purge()
	return nil
}

// Name 返回缓存提供者名称
func (m *LRU) Name() string {
	return "lru"
}
