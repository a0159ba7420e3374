package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/anoixa/image-proxy/cache/types"
	"github.com/anoixa/image-proxy/utils"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL 网络缓存层条目的过期时间
const DefaultTTL = 7 * 24 * time.Hour

// Tiered 两级缓存: 内存层在前, 网络层在后
// 网络层的读写失败不会向调用方返回错误, 读失败视为未命中, 写失败仅记录日志
type Tiered struct {
	memory  types.Store
	remote  types.Store
	ttl     time.Duration
	timeout time.Duration
	keys    *KeyBuilder
	group   singleflight.Group
	logger  *slog.Logger

	memoryHits   atomic.Int64
	remoteHits   atomic.Int64
	misses       atomic.Int64
	remoteErrors atomic.Int64
	writes       atomic.Int64
}

// TieredConfig 两级缓存配置
type TieredConfig struct {
	// TTL 网络层过期时间, <= 0 时使用 DefaultTTL
	TTL time.Duration
	// Timeout 单次网络层操作的超时, <= 0 表示不额外限制
	Timeout time.Duration
	// KeyPrefix 网络层键前缀
	KeyPrefix string
	// KeySeparator 前缀与源地址之间的分隔符, 为空时使用 ":"
	KeySeparator string
}

// Stats 缓存统计
type Stats struct {
	Memory       string `json:"memory"`
	Remote       string `json:"remote,omitempty"`
	MemoryHits   int64  `json:"memory_hits"`
	RemoteHits   int64  `json:"remote_hits"`
	Misses       int64  `json:"misses"`
	RemoteErrors int64  `json:"remote_errors"`
	Writes       int64  `json:"writes"`
}

// NewTiered 创建两级缓存, remote 可为 nil (仅内存模式)
func NewTiered(memory, remote types.Store, cfg TieredConfig, logger *slog.Logger) *Tiered {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	keys := NewKeyBuilder(cfg.KeyPrefix)
	if cfg.KeySeparator != "" {
		keys.WithSeparator(cfg.KeySeparator)
	}
	return &Tiered{
		memory:  memory,
		remote:  remote,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		keys:    keys,
		logger:  logger.With("component", "TieredCache"),
	}
}

// Get 查询源地址对应的托管地址
func (t *Tiered) Get(ctx context.Context, sourceURL string) (string, bool) {
	if value, err := t.memory.Get(ctx, sourceURL); err == nil {
		t.memoryHits.Add(1)
		return value, true
	}

	if t.remote == nil {
		t.misses.Add(1)
		return "", false
	}

	// 同一键的并发网络查询合并为一次往返
	// 结果由所有等待者共享, 不能随发起者的请求一起取消, 仅受 timeout 限制
	remoteCtx := context.WithoutCancel(ctx)
	v, err, _ := t.group.Do(sourceURL, func() (interface{}, error) {
		return t.remoteGet(remoteCtx, sourceURL)
	})
	if err != nil {
		if !types.IsCacheMiss(err) {
			t.remoteErrors.Add(1)
			t.logger.Warn("remote cache read failed, treating as miss",
				"source_url", utils.SanitizeLogURL(sourceURL), "error", err)
		}
		t.misses.Add(1)
		return "", false
	}

	value := v.(string)
	// 回填内存层, 后续查询无需网络往返
	_ = t.memory.Set(ctx, sourceURL, value, 0)
	t.remoteHits.Add(1)
	return value, true
}

// Set 写入两级缓存, 网络层带过期时间, 内存层仅受容量淘汰
func (t *Tiered) Set(ctx context.Context, sourceURL, hostedURL string) {
	_ = t.memory.Set(ctx, sourceURL, hostedURL, 0)
	t.writes.Add(1)

	if t.remote == nil {
		return
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	if err := t.remote.Set(ctx, t.keys.Build(sourceURL), hostedURL, t.ttl); err != nil {
		t.remoteErrors.Add(1)
		t.logger.Warn("remote cache write failed, dropped",
			"source_url", utils.SanitizeLogURL(sourceURL), "error", err)
	}
}

func (t *Tiered) remoteGet(ctx context.Context, sourceURL string) (string, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return t.remote.Get(ctx, t.keys.Build(sourceURL))
}

func (t *Tiered) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}

// Stats 返回缓存统计
func (t *Tiered) Stats() Stats {
	s := Stats{
		Memory:       t.memory.Name(),
		MemoryHits:   t.memoryHits.Load(),
		RemoteHits:   t.remoteHits.Load(),
		Misses:       t.misses.Load(),
		RemoteErrors: t.remoteErrors.Load(),
		Writes:       t.writes.Load(),
	}
	if t.remote != nil {
		s.Remote = t.remote.Name()
	}
	return s
}

// Health 检查网络层连通性, 仅内存模式时返回 nil
func (t *Tiered) Health(ctx context.Context) error {
	if t.remote == nil {
		return nil
	}
	pinger, ok := t.remote.(types.Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return pinger.Ping(ctx)
}

// HasRemote 是否配置了网络层
func (t *Tiered) HasRemote() bool {
	return t.remote != nil
}

// Close 关闭两级缓存
func (t *Tiered) Close() error {
	var errs []error
	if err := t.memory.Close(); err != nil {
		errs = append(errs, err)
	}
	if t.remote != nil {
		if err := t.remote.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
