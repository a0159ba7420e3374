package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/anoixa/image-proxy/cache/types"
	"github.com/go-redis/redis/v8"
)

// Redis 网络缓存层, 实现 types.Store
type Redis struct {
	client *redis.Client
}

// Config Redis 配置
type Config struct {
	// URL 连接串, 如 redis://:pass@host:6379/0 或 rediss://... (TLS)
	URL string
	// RequireTLS 强制使用 TLS, 即便连接串为 redis://
	RequireTLS bool
	// DialTimeout 建连超时
	DialTimeout time.Duration
}

// NewRedis 创建 Redis 缓存并测试连接
func NewRedis(cfg Config) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	if cfg.RequireTLS && opts.TLSConfig == nil {
		host := opts.Addr
		if h, _, err := net.SplitHostPort(opts.Addr); err == nil {
			host = h
		}
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		}
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Get 获取缓存项
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", types.ErrCacheMiss
		}
		return "", err
	}
	return value, nil
}

// Set 设置缓存项, 值按原样存储, 以便其它客户端直接读取
func (r *Redis) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

// Ping 检查 Redis 健康状态
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 关闭缓存连接
func (r *Redis) Close() error {
	return r.client.Close()
}

// Name 返回缓存名称
func (r *Redis) Name() string {
	return "redis"
}
