// Package vips 基于 libvips 的压缩引擎, 需要 cgo
package vips

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"
	"golang.org/x/sync/semaphore"

	"github.com/anoixa/image-proxy/internal/image"
	"github.com/anoixa/image-proxy/utils"
)

var startOnce sync.Once

// Startup 启动 libvips, 进程内只生效一次
func Startup(concurrency int) {
	startOnce.Do(func() {
		govips.LoggingSettings(func(domain string, level govips.LogLevel, msg string) {
			slog.Debug(msg, "component", "libvips", "domain", domain)
		}, govips.LogLevelWarning)
		govips.Startup(&govips.Config{ConcurrencyLevel: concurrency})
	})
}

// Shutdown 关闭 libvips
func Shutdown() {
	govips.Shutdown()
}

// Compressor libvips 压缩引擎
type Compressor struct {
	sem *semaphore.Weighted
}

// New 创建 libvips 压缩器, concurrency 限制同时处理的图片数量
func New(concurrency int) *Compressor {
	if concurrency <= 0 {
		concurrency = 1
	}
	Startup(concurrency)
	return &Compressor{sem: semaphore.NewWeighted(int64(concurrency))}
}

// Name 返回引擎名称
func (c *Compressor) Name() string {
	return "vips"
}

// Compress 缩放到最大宽度并导出为目标格式
func (c *Compressor) Compress(ctx context.Context, data []byte, opts image.Options) (*image.Output, error) {
	if len(data) == 0 {
		return nil, image.ErrEmptyInput
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	format := image.NormalizeFormat(opts.Format)
	if err := image.CheckHeader(data, opts.MaxPixels); err != nil {
		return nil, err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	img, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("load image from buffer: %w", err)
	}
	defer img.Close()

	// libvips 按需解码, 此时只读取了头部
	if err := image.CheckPixels(img.Width(), img.Height(), opts.MaxPixels); err != nil {
		return nil, err
	}

	// 按 EXIF 方向摆正
	if err := img.AutoRotate(); err != nil {
		return nil, fmt.Errorf("auto rotate: %w", err)
	}

	if img.Width() > opts.Width {
		scale := float64(opts.Width) / float64(img.Width())
		if err := img.Resize(scale, govips.KernelLanczos3); err != nil {
			return nil, fmt.Errorf("resize: %w", err)
		}
	}

	out, err := export(img, format, opts.Quality)
	if err != nil {
		return nil, err
	}

	return &image.Output{
		Data:        out,
		Format:      format,
		ContentType: utils.MimeForFormat(format),
		Width:       img.Width(),
		Height:      img.Height(),
	}, nil
}

func export(img *govips.ImageRef, format string, quality int) ([]byte, error) {
	var (
		buf []byte
		err error
	)

	switch format {
	case "webp":
		buf, _, err = img.ExportWebp(&govips.WebpExportParams{
			Quality:         quality,
			Lossless:        false,
			ReductionEffort: 4,
			StripMetadata:   true,
		})
	case "jpeg":
		buf, _, err = img.ExportJpeg(&govips.JpegExportParams{
			Quality:       quality,
			Interlace:     true,
			StripMetadata: true,
		})
	case "png":
		params := govips.NewPngExportParams()
		params.Quality = quality
		params.StripMetadata = true
		buf, _, err = img.ExportPng(params)
	case "avif":
		params := govips.NewAvifExportParams()
		params.Quality = quality
		params.StripMetadata = true
		buf, _, err = img.ExportAvif(params)
	default:
		return nil, fmt.Errorf("%w: %s", image.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", format, err)
	}
	return buf, nil
}
