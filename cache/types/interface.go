package types

import (
	"context"
	"errors"
	"time"
)

// Store 单层缓存接口, 键值均为字符串
type Store interface {
	// Get 获取缓存项, 未命中返回 ErrCacheMiss
	Get(ctx context.Context, key string) (string, error)

	// Set 设置缓存项, expiration <= 0 表示不过期
	Set(ctx context.Context, key, value string, expiration time.Duration) error

	// Close 关闭缓存连接
	Close() error

	// Name 返回缓存名称
	Name() string
}

// Pinger 支持健康检查的缓存
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
