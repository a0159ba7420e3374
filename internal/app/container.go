package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anoixa/image-proxy/cache"
	"github.com/anoixa/image-proxy/config"
	"github.com/anoixa/image-proxy/internal/image"
	"github.com/anoixa/image-proxy/internal/image/vips"
	"github.com/anoixa/image-proxy/internal/proxy"
	"github.com/anoixa/image-proxy/internal/worker"
	"github.com/anoixa/image-proxy/storage"
)

// Container 依赖注入容器 - 管理所有服务的生命周期
type Container struct {
	config *config.Config
	logger *slog.Logger

	cache      *cache.Tiered
	uploader   storage.Uploader
	fetcher    image.Fetcher
	compressor image.Compressor
	pool       *worker.Pool
	proxy      *proxy.Service
}

// NewContainer 按配置装配所有组件, 任一组件失败时释放已创建的资源
func NewContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{config: cfg, logger: logger.With("component", "Container")}

	if err := c.init(logger); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) init(logger *slog.Logger) error {
	cfg := c.config

	tiered, err := cache.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	c.cache = tiered

	uploader, err := storage.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.uploader = uploader

	c.fetcher = image.NewHTTPFetcher(image.FetcherConfig{
		Timeout:      cfg.FetchTimeout,
		MaxBytes:     cfg.FetchMaxBytes(),
		UserAgent:    cfg.FetchUserAgent,
		BlockPrivate: cfg.FetchBlockPrivate,
	})

	c.compressor = newCompressor(cfg)
	c.logger.Info("compress engine ready", "engine", c.compressor.Name(),
		"width", cfg.CompressWidth, "quality", cfg.CompressQuality, "format", cfg.CompressFormat)

	c.pool = worker.NewPool(cfg.WorkerCount, cfg.WorkerQueueSize)

	svc, err := proxy.NewService(proxy.Deps{
		Cache:      c.cache,
		Fetcher:    c.fetcher,
		Compressor: c.compressor,
		Uploader:   c.uploader,
		Scheduler:  c.pool,
		Logger:     logger,
	}, proxy.Config{
		Compress: image.Options{
			Width:     cfg.CompressWidth,
			Quality:   cfg.CompressQuality,
			Format:    cfg.CompressFormat,
			MaxPixels: cfg.CompressMaxPixels,
		},
		Folder:        cfg.UploadFolder,
		FlowTimeout:   cfg.FlowTimeout,
		UploadTimeout: cfg.UploadTimeout,
		Dedupe:        cfg.UploadDedupe,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize proxy service: %w", err)
	}
	c.proxy = svc
	return nil
}

func newCompressor(cfg *config.Config) image.Compressor {
	if cfg.CompressEngine == config.EngineNative {
		return image.NewNativeCompressor()
	}
	return vips.New(cfg.CompressConcurrency)
}

// Config 获取配置
func (c *Container) Config() *config.Config { return c.config }

// Cache 获取两级缓存
func (c *Container) Cache() *cache.Tiered { return c.cache }

// Uploader 获取上传后端
func (c *Container) Uploader() storage.Uploader { return c.uploader }

// Pool 获取后台协程池
func (c *Container) Pool() *worker.Pool { return c.pool }

// Proxy 获取代理服务
func (c *Container) Proxy() *proxy.Service { return c.proxy }

// Close 按依赖倒序释放资源: 先等待后台流程, 再关闭缓存与 libvips
func (c *Container) Close(ctx context.Context) error {
	var errs []error

	if c.pool != nil {
		if err := c.pool.StopContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("worker pool: %w", err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if _, ok := c.compressor.(*vips.Compressor); ok {
		vips.Shutdown()
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("container closed with errors", "error", err)
		return err
	}
	c.logger.Info("container closed")
	return nil
}
