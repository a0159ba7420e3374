package proxy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anoixa/image-proxy/internal/image"
	"github.com/anoixa/image-proxy/internal/worker"
	"github.com/anoixa/image-proxy/storage"
	"github.com/anoixa/image-proxy/utils/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
	sets atomic.Int32
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string]string{}}
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets.Add(1)
}

type fakeFetcher struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*image.Source, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &image.Source{URL: rawURL, Data: []byte("raw:" + rawURL), ContentType: "image/png"}, nil
}

type fakeCompressor struct {
	mu   sync.Mutex
	opts image.Options
	err  error
}

func (c *fakeCompressor) Compress(_ context.Context, data []byte, opts image.Options) (*image.Output, error) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &image.Output{Data: append([]byte("webp:"), data...), Format: opts.Format, ContentType: "image/webp"}, nil
}

func (c *fakeCompressor) Name() string { return "fake" }

type fakeUploader struct {
	mu    sync.Mutex
	calls int
	keys  []string
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, obj *storage.Object) (*storage.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.keys = append(u.keys, obj.Key)
	if u.err != nil {
		return nil, u.err
	}
	return &storage.Result{URL: "https://cdn.example/" + obj.Key, Key: obj.Key, Bytes: int64(len(obj.Data))}, nil
}

func (u *fakeUploader) Health(context.Context) error { return nil }
func (u *fakeUploader) Name() string                 { return "fake" }

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

type rejectScheduler struct{}

func (rejectScheduler) Submit(worker.Task) bool { return false }

type harness struct {
	svc        *Service
	cache      *mapCache
	fetcher    *fakeFetcher
	compressor *fakeCompressor
	uploader   *fakeUploader
	outcomes   chan Outcome
}

func newHarness(t *testing.T, mutate func(d *Deps, c *Config)) *harness {
	t.Helper()
	h := &harness{
		cache:      newMapCache(),
		fetcher:    &fakeFetcher{},
		compressor: &fakeCompressor{},
		uploader:   &fakeUploader{},
		outcomes:   make(chan Outcome, 64),
	}

	pool := worker.NewPool(4, 100)
	t.Cleanup(pool.Stop)

	deps := Deps{
		Cache:      h.cache,
		Fetcher:    h.fetcher,
		Compressor: h.compressor,
		Uploader:   h.uploader,
		Scheduler:  pool,
		Logger:     logger.Discard(),
		OnComplete: func(o Outcome) { h.outcomes <- o },
	}
	cfg := Config{
		Compress:    image.Options{Width: 600, Quality: 40, Format: "webp"},
		Folder:      "comicspie",
		FlowTimeout: 5 * time.Second,
		Dedupe:      true,
	}
	if mutate != nil {
		mutate(&deps, &cfg)
	}

	svc, err := NewService(deps, cfg)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) waitOutcome(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-h.outcomes:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for background flow")
		return Outcome{}
	}
}

func TestResolveColdThenWarm(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	src := "https://x.example/a.png"

	res, err := h.svc.Resolve(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, src, res.URL, "cold cache returns the source url")
	assert.False(t, res.Cached)
	assert.True(t, res.Scheduled)

	o := h.waitOutcome(t)
	require.NoError(t, o.Err)
	assert.Equal(t, src, o.SourceURL)
	assert.True(t, strings.HasPrefix(o.HostedURL, "https://cdn.example/comicspie/"))
	assert.True(t, strings.HasSuffix(o.HostedURL, ".webp"))

	res, err = h.svc.Resolve(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, o.HostedURL, res.URL)
	assert.True(t, res.Cached)
	assert.False(t, res.Scheduled)

	assert.Equal(t, image.Options{Width: 600, Quality: 40, Format: "webp"}, h.compressor.opts)

	stats := h.svc.Stats()
	assert.Equal(t, int64(2), stats.Resolved)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Eventually(t, func() bool { return h.svc.Stats().InFlight == 0 }, time.Second, 10*time.Millisecond)
}

func TestResolveEmptyURL(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySourceURL)
	assert.Equal(t, int32(0), h.fetcher.calls.Load())
}

func TestFlowFailuresCacheNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *harness)
		stage  Stage
	}{
		{"fetch", func(h *harness) { h.fetcher.err = errors.New("connection refused") }, StageFetch},
		{"compress", func(h *harness) { h.compressor.err = errors.New("bad image") }, StageCompress},
		{"upload", func(h *harness) { h.uploader.err = errors.New("cloudinary 500") }, StageUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.mutate(h)

			res, err := h.svc.Resolve(context.Background(), "https://x.example/a.png")
			require.NoError(t, err)
			assert.Equal(t, "https://x.example/a.png", res.URL)

			o := h.waitOutcome(t)
			require.Error(t, o.Err)
			assert.Equal(t, tt.stage, o.Stage)
			assert.Equal(t, int32(0), h.cache.sets.Load())

			var fe *FlowError
			assert.True(t, errors.As(o.Err, &fe))
		})
	}
}

func TestFailureStatsPerStage(t *testing.T) {
	h := newHarness(t, nil)
	h.uploader.err = errors.New("boom")

	_, err := h.svc.Resolve(context.Background(), "https://x.example/a.png")
	require.NoError(t, err)
	h.waitOutcome(t)

	stats := h.svc.Stats()
	assert.Equal(t, int64(1), stats.UploadFailures)
	assert.Equal(t, int64(0), stats.Succeeded)
}

func TestDedupeConcurrentColdRequests(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, nil)
	h.fetcher.gate = gate

	const n = 20
	var wg sync.WaitGroup
	var scheduled atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.Resolve(context.Background(), "https://x.example/same.png")
			assert.NoError(t, err)
			assert.Equal(t, "https://x.example/same.png", res.URL)
			if res.Scheduled {
				scheduled.Add(1)
			}
		}()
	}
	wg.Wait()
	close(gate)

	o := h.waitOutcome(t)
	require.NoError(t, o.Err)

	assert.Equal(t, int32(1), scheduled.Load())
	assert.Equal(t, 1, h.uploader.count())
	assert.Equal(t, int64(n-1), h.svc.Stats().Deduplicated)

	// 流程结束后释放, 可再次安排
	assert.Eventually(t, func() bool { return h.svc.Stats().InFlight == 0 }, time.Second, 10*time.Millisecond)
}

func TestNoDedupeLastWriteWins(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func(d *Deps, c *Config) { c.Dedupe = false })
	h.fetcher.gate = gate

	for i := 0; i < 3; i++ {
		res, err := h.svc.Resolve(context.Background(), "https://x.example/same.png")
		require.NoError(t, err)
		assert.True(t, res.Scheduled)
	}
	close(gate)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.waitOutcome(t).Err)
	}
	assert.Equal(t, 3, h.uploader.count())

	// 同一源地址得到同一对象键, 缓存结果一致
	h.uploader.mu.Lock()
	keys := append([]string(nil), h.uploader.keys...)
	h.uploader.mu.Unlock()
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[1], keys[2])

	hosted, ok := h.cache.Get(context.Background(), "https://x.example/same.png")
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example/"+keys[0], hosted)
}

func TestRejectedSubmissionReleasesInFlight(t *testing.T) {
	h := newHarness(t, func(d *Deps, c *Config) { d.Scheduler = rejectScheduler{} })

	res, err := h.svc.Resolve(context.Background(), "https://x.example/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://x.example/a.png", res.URL)
	assert.False(t, res.Scheduled)

	stats := h.svc.Stats()
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, int32(0), h.fetcher.calls.Load())
}

func TestDefaultSchedulerRunsDetached(t *testing.T) {
	h := newHarness(t, func(d *Deps, c *Config) { d.Scheduler = nil })

	res, err := h.svc.Resolve(context.Background(), "https://x.example/a.png")
	require.NoError(t, err)
	assert.True(t, res.Scheduled)
	require.NoError(t, h.waitOutcome(t).Err)
}

func TestFlowTimeout(t *testing.T) {
	h := newHarness(t, func(d *Deps, c *Config) { c.FlowTimeout = 50 * time.Millisecond })
	h.fetcher.gate = make(chan struct{})

	_, err := h.svc.Resolve(context.Background(), "https://x.example/slow.png")
	require.NoError(t, err)

	o := h.waitOutcome(t)
	assert.Equal(t, StageFetch, o.Stage)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
}

func TestProcessSynchronous(t *testing.T) {
	h := newHarness(t, nil)

	hosted, err := h.svc.Process(context.Background(), "https://x.example/a.png")
	require.NoError(t, err)

	want := "https://cdn.example/" + storage.ObjectKey("comicspie", "https://x.example/a.png", ".webp")
	assert.Equal(t, want, hosted)

	cached, ok := h.cache.Get(context.Background(), "https://x.example/a.png")
	assert.True(t, ok)
	assert.Equal(t, hosted, cached)

	_, err = h.svc.Process(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySourceURL)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Deps{}, Config{})
	assert.Error(t, err)

	_, err = NewService(Deps{
		Cache:      newMapCache(),
		Fetcher:    &fakeFetcher{},
		Compressor: &fakeCompressor{},
		Uploader:   &fakeUploader{},
	}, Config{Compress: image.Options{Width: 0, Quality: 40, Format: "webp"}})
	assert.Error(t, err)
}

func TestStageOf(t *testing.T) {
	err := &FlowError{Stage: StageUpload, Err: errors.New("x")}
	assert.Equal(t, StageUpload, StageOf(err))
	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
	assert.Equal(t, "upload failed: x", err.Error())
}
