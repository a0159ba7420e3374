package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anoixa/image-proxy/cache/memory"
	"github.com/anoixa/image-proxy/cache/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTiered(t *testing.T, cfg TieredConfig) (*Tiered, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	remote, err := redis.NewRedis(redis.Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)

	mem, err := memory.NewLRU(500)
	require.NoError(t, err)

	c := NewTiered(mem, remote, cfg, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestTieredSetGet(t *testing.T) {
	c, mr := newTestTiered(t, TieredConfig{})
	ctx := context.Background()

	c.Set(ctx, "https://x/a.png", "https://cdn.example/a.webp")

	value, ok := c.Get(ctx, "https://x/a.png")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/a.webp", value)

	// 网络层以源地址为键, 默认 7 天过期
	raw, err := mr.Get("https://x/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.webp", raw)
	assert.Equal(t, DefaultTTL, mr.TTL("https://x/a.png"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.MemoryHits)
	assert.Equal(t, "lru", stats.Memory)
	assert.Equal(t, "redis", stats.Remote)
}

func TestTieredRemoteHitWritesBack(t *testing.T) {
	c, mr := newTestTiered(t, TieredConfig{})
	ctx := context.Background()

	// 另一个实例写入的条目
	require.NoError(t, mr.Set("https://x/b.png", "https://cdn.example/b.webp"))

	value, ok := c.Get(ctx, "https://x/b.png")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/b.webp", value)
	assert.Equal(t, int64(1), c.Stats().RemoteHits)

	// 回填后即便网络层不可用也能命中
	mr.Close()
	value, ok = c.Get(ctx, "https://x/b.png")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/b.webp", value)
	assert.Equal(t, int64(1), c.Stats().MemoryHits)
}

func TestTieredMiss(t *testing.T) {
	c, _ := newTestTiered(t, TieredConfig{})

	_, ok := c.Get(context.Background(), "https://x/missing.png")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.RemoteErrors)
}

func TestTieredRemoteUnavailable(t *testing.T) {
	c, mr := newTestTiered(t, TieredConfig{Timeout: 200 * time.Millisecond})
	ctx := context.Background()
	mr.Close()

	// 读失败视为未命中
	_, ok := c.Get(ctx, "https://x/c.png")
	assert.False(t, ok)

	// 写失败被丢弃, 内存层仍然写入
	c.Set(ctx, "https://x/c.png", "https://cdn.example/c.webp")
	value, ok := c.Get(ctx, "https://x/c.png")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/c.webp", value)

	assert.Equal(t, int64(2), c.Stats().RemoteErrors)
	assert.Error(t, c.Health(ctx))
}

func TestTieredTTLAndPrefix(t *testing.T) {
	c, mr := newTestTiered(t, TieredConfig{TTL: time.Hour, KeyPrefix: "imgproxy"})
	ctx := context.Background()

	c.Set(ctx, "https://x/d.png", "https://cdn.example/d.webp")

	assert.Equal(t, time.Hour, mr.TTL("imgproxy:https://x/d.png"))
	assert.False(t, mr.Exists("https://x/d.png"))

	mr.FastForward(time.Hour + time.Second)
	assert.False(t, mr.Exists("imgproxy:https://x/d.png"))
}

func TestTieredKeySeparator(t *testing.T) {
	c, mr := newTestTiered(t, TieredConfig{KeyPrefix: "imgproxy", KeySeparator: "|"})
	ctx := context.Background()

	c.Set(ctx, "https://x/g.png", "https://cdn.example/g.webp")

	raw, err := mr.Get("imgproxy|https://x/g.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/g.webp", raw)
	assert.False(t, mr.Exists("imgproxy:https://x/g.png"))
}

func TestTieredMemoryOnly(t *testing.T) {
	mem, err := memory.NewLRU(10)
	require.NoError(t, err)
	c := NewTiered(mem, nil, TieredConfig{}, nil)
	ctx := context.Background()

	assert.False(t, c.HasRemote())
	assert.NoError(t, c.Health(ctx))

	c.Set(ctx, "k", "v")
	value, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", value)
	assert.Empty(t, c.Stats().Remote)
	assert.NoError(t, c.Close())
}

// slowStore 记录 Get 次数, 用于验证并发查询合并
type slowStore struct {
	gets  atomic.Int32
	delay time.Duration
	value string
	err   error
}

func (s *slowStore) Get(ctx context.Context, _ string) (string, error) {
	s.gets.Add(1)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	return s.value, nil
}

func (s *slowStore) Set(context.Context, string, string, time.Duration) error { return s.err }
func (s *slowStore) Close() error                                             { return nil }
func (s *slowStore) Name() string                                             { return "slow" }

func TestTieredCollapsesConcurrentLookups(t *testing.T) {
	mem, err := memory.NewLRU(10)
	require.NoError(t, err)
	remote := &slowStore{delay: 100 * time.Millisecond, value: "https://cdn.example/e.webp"}
	c := NewTiered(mem, remote, TieredConfig{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, ok := c.Get(context.Background(), "https://x/e.png")
			assert.True(t, ok)
			assert.Equal(t, "https://cdn.example/e.webp", value)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), remote.gets.Load())
}

func TestTieredLeaderCancelDoesNotFailFollowers(t *testing.T) {
	mem, err := memory.NewLRU(10)
	require.NoError(t, err)
	remote := &slowStore{delay: 200 * time.Millisecond, value: "https://cdn.example/f.webp"}
	c := NewTiered(mem, remote, TieredConfig{Timeout: time.Second}, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		c.Get(leaderCtx, "https://x/f.png")
	}()

	// 等待发起者进入网络查询后再加入
	require.Eventually(t, func() bool { return remote.gets.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		value string
		ok    bool
	}
	followerDone := make(chan result, 1)
	go func() {
		value, ok := c.Get(context.Background(), "https://x/f.png")
		followerDone <- result{value, ok}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	res := <-followerDone
	<-leaderDone
	assert.True(t, res.ok, "follower with a live context must see the stored value")
	assert.Equal(t, "https://cdn.example/f.webp", res.value)
	assert.Equal(t, int32(1), remote.gets.Load())
	assert.Equal(t, int64(0), c.Stats().RemoteErrors)
}

func TestTieredRemoteTimeout(t *testing.T) {
	mem, err := memory.NewLRU(10)
	require.NoError(t, err)
	remote := &slowStore{delay: time.Second, value: "late"}
	c := NewTiered(mem, remote, TieredConfig{Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTieredWriteErrorDropped(t *testing.T) {
	mem, err := memory.NewLRU(10)
	require.NoError(t, err)
	remote := &slowStore{err: errors.New("boom")}
	c := NewTiered(mem, remote, TieredConfig{}, nil)
	ctx := context.Background()

	c.Set(ctx, "k", "v")
	value, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
	assert.Equal(t, int64(1), c.Stats().RemoteErrors)
}
