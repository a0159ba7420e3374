package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anoixa/image-proxy/internal/image"
	"github.com/anoixa/image-proxy/internal/worker"
	"github.com/anoixa/image-proxy/storage"
	"github.com/anoixa/image-proxy/utils"
)

// Cache 源地址到托管地址的缓存
type Cache interface {
	Get(ctx context.Context, sourceURL string) (string, bool)
	Set(ctx context.Context, sourceURL, hostedURL string)
}

// Scheduler 后台任务调度, 提交失败时返回 false
type Scheduler interface {
	Submit(task worker.Task) bool
}

// Config 流程配置
type Config struct {
	Compress      image.Options
	Folder        string
	FlowTimeout   time.Duration
	UploadTimeout time.Duration
	// Dedupe 同一源地址同时只允许一个后台流程
	Dedupe bool
}

// Deps 服务依赖
type Deps struct {
	Cache      Cache
	Fetcher    image.Fetcher
	Compressor image.Compressor
	Uploader   storage.Uploader
	// Scheduler 为空时每个流程单独起一个 goroutine
	Scheduler Scheduler
	Logger    *slog.Logger
	// OnComplete 每个后台流程结束后调用
	OnComplete func(Outcome)
}

// Resolution 查询结果
type Resolution struct {
	// URL 返回给调用方的地址, 命中时为托管地址, 否则为源地址
	URL string
	// Cached 是否命中缓存
	Cached bool
	// Scheduled 是否新安排了后台流程
	Scheduled bool
}

// Outcome 后台流程的结果
type Outcome struct {
	SourceURL string
	HostedURL string
	Stage     Stage
	Err       error
	Duration  time.Duration
}

// Stats 服务统计
type Stats struct {
	Resolved         int64 `json:"resolved"`
	CacheHits        int64 `json:"cache_hits"`
	CacheMisses      int64 `json:"cache_misses"`
	Scheduled        int64 `json:"scheduled"`
	Deduplicated     int64 `json:"deduplicated"`
	Rejected         int64 `json:"rejected"`
	Succeeded        int64 `json:"succeeded"`
	FetchFailures    int64 `json:"fetch_failures"`
	CompressFailures int64 `json:"compress_failures"`
	UploadFailures   int64 `json:"upload_failures"`
	InFlight         int   `json:"in_flight"`
}

// Service 图片代理服务: 查缓存, 未命中时立即返回源地址并安排后台上传
type Service struct {
	cache      Cache
	fetcher    image.Fetcher
	compressor image.Compressor
	uploader   storage.Uploader
	scheduler  Scheduler
	onComplete func(Outcome)
	cfg        Config
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	resolved         atomic.Int64
	hits             atomic.Int64
	misses           atomic.Int64
	scheduled        atomic.Int64
	deduplicated     atomic.Int64
	rejected         atomic.Int64
	succeeded        atomic.Int64
	fetchFailures    atomic.Int64
	compressFailures atomic.Int64
	uploadFailures   atomic.Int64
}

// NewService 创建代理服务
func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Cache == nil || deps.Fetcher == nil || deps.Compressor == nil || deps.Uploader == nil {
		return nil, fmt.Errorf("proxy service requires cache, fetcher, compressor and uploader")
	}
	if err := cfg.Compress.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compress options: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = goScheduler{}
	}

	return &Service{
		cache:      deps.Cache,
		fetcher:    deps.Fetcher,
		compressor: deps.Compressor,
		uploader:   deps.Uploader,
		scheduler:  scheduler,
		onComplete: deps.OnComplete,
		cfg:        cfg,
		logger:     logger.With("component", "ProxyService"),
		inflight:   make(map[string]struct{}),
	}, nil
}

// Resolve 返回源地址对应的可用地址, 未命中时安排后台流程但不等待
func (s *Service) Resolve(ctx context.Context, sourceURL string) (*Resolution, error) {
	if sourceURL == "" {
		return nil, ErrEmptySourceURL
	}
	s.resolved.Add(1)

	if hosted, ok := s.cache.Get(ctx, sourceURL); ok {
		s.hits.Add(1)
		s.logger.Debug("cache hit", "source_url", utils.SanitizeLogURL(sourceURL))
		return &Resolution{URL: hosted, Cached: true}, nil
	}

	s.misses.Add(1)
	return &Resolution{URL: sourceURL, Scheduled: s.schedule(sourceURL)}, nil
}

// schedule 提交后台流程, 去重或队列已满时返回 false
func (s *Service) schedule(sourceURL string) bool {
	if s.cfg.Dedupe && !s.acquire(sourceURL) {
		s.deduplicated.Add(1)
		s.logger.Debug("upload already in flight", "source_url", utils.SanitizeLogURL(sourceURL))
		return false
	}

	ok := s.scheduler.Submit(func() {
		if s.cfg.Dedupe {
			defer s.release(sourceURL)
		}
		ctx := context.Background()
		if s.cfg.FlowTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.FlowTimeout)
			defer cancel()
		}
		s.run(ctx, sourceURL)
	})
	if !ok {
		if s.cfg.Dedupe {
			s.release(sourceURL)
		}
		s.rejected.Add(1)
		s.logger.Warn("background upload not scheduled", "source_url", utils.SanitizeLogURL(sourceURL))
		return false
	}

	s.scheduled.Add(1)
	return true
}

func (s *Service) acquire(sourceURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[sourceURL]; ok {
		return false
	}
	s.inflight[sourceURL] = struct{}{}
	return true
}

func (s *Service) release(sourceURL string) {
	s.mu.Lock()
	delete(s.inflight, sourceURL)
	s.mu.Unlock()
}

// run 执行后台流程并汇报结果
func (s *Service) run(ctx context.Context, sourceURL string) {
	start := time.Now()
	hosted, err := s.Process(ctx, sourceURL)

	outcome := Outcome{
		SourceURL: sourceURL,
		HostedURL: hosted,
		Stage:     StageOf(err),
		Err:       err,
		Duration:  time.Since(start),
	}
	s.complete(outcome)
}

func (s *Service) complete(o Outcome) {
	if o.Err == nil {
		s.succeeded.Add(1)
		s.logger.Info("uploaded in background",
			"source_url", utils.SanitizeLogURL(o.SourceURL),
			"hosted_url", o.HostedURL,
			"duration", o.Duration)
	} else {
		switch o.Stage {
		case StageFetch:
			s.fetchFailures.Add(1)
		case StageCompress:
			s.compressFailures.Add(1)
		case StageUpload:
			s.uploadFailures.Add(1)
		}
		s.logger.Error("background upload failed",
			"source_url", utils.SanitizeLogURL(o.SourceURL),
			"stage", string(o.Stage),
			"error", o.Err,
			"duration", o.Duration)
	}

	if s.onComplete != nil {
		s.onComplete(o)
	}
}

// Process 同步执行拉取, 压缩, 上传并写入缓存, 返回托管地址
func (s *Service) Process(ctx context.Context, sourceURL string) (string, error) {
	if sourceURL == "" {
		return "", ErrEmptySourceURL
	}

	src, err := s.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return "", &FlowError{Stage: StageFetch, Err: err}
	}

	out, err := s.compressor.Compress(ctx, src.Data, s.cfg.Compress)
	if err != nil {
		return "", &FlowError{Stage: StageCompress, Err: err}
	}

	uploadCtx := ctx
	if s.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		uploadCtx, cancel = context.WithTimeout(ctx, s.cfg.UploadTimeout)
		defer cancel()
	}

	res, err := s.uploader.Upload(uploadCtx, &storage.Object{
		Key:         storage.ObjectKey(s.cfg.Folder, sourceURL, utils.ExtForFormat(out.Format)),
		Data:        out.Data,
		ContentType: out.ContentType,
		Format:      out.Format,
	})
	if err != nil {
		return "", &FlowError{Stage: StageUpload, Err: err}
	}

	s.cache.Set(ctx, sourceURL, res.URL)
	return res.URL, nil
}

// Stats 返回服务统计
func (s *Service) Stats() Stats {
	s.mu.Lock()
	inflight := len(s.inflight)
	s.mu.Unlock()

	return Stats{
		Resolved:         s.resolved.Load(),
		CacheHits:        s.hits.Load(),
		CacheMisses:      s.misses.Load(),
		Scheduled:        s.scheduled.Load(),
		Deduplicated:     s.deduplicated.Load(),
		Rejected:         s.rejected.Load(),
		Succeeded:        s.succeeded.Load(),
		FetchFailures:    s.fetchFailures.Load(),
		CompressFailures: s.compressFailures.Load(),
		UploadFailures:   s.uploadFailures.Load(),
		InFlight:         inflight,
	}
}

// goScheduler 无协程池时的调度方式
type goScheduler struct{}

func (goScheduler) Submit(task worker.Task) bool {
	utils.SafeGo(task)
	return true
}
