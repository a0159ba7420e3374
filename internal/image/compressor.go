package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	goimage "image"
	"strings"
)

var (
	// ErrEmptyInput 输入为空
	ErrEmptyInput = errors.New("empty image data")
	// ErrUnsupportedFormat 引擎不支持的输出格式
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrTooManyPixels 原图像素数超过限制
	ErrTooManyPixels = errors.New("image exceeds pixel limit")
)

// Options 压缩参数
type Options struct {
	// Width 最大宽度, 原图更窄时不放大
	Width int
	// Quality 编码质量 1..100
	Quality int
	// Format 输出格式: webp / jpeg / png / avif
	Format string
	// MaxPixels 解码前允许的最大像素数 (宽 x 高), 0 表示不限制
	MaxPixels int64
}

// Validate 校验压缩参数
func (o Options) Validate() error {
	if o.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d", o.Width)
	}
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("quality must be within 1..100, got %d", o.Quality)
	}
	if o.Format == "" {
		return fmt.Errorf("%w: empty", ErrUnsupportedFormat)
	}
	if o.MaxPixels < 0 {
		return fmt.Errorf("max pixels must not be negative, got %d", o.MaxPixels)
	}
	return nil
}

// CheckPixels 校验尺寸是否在 maxPixels 以内, maxPixels <= 0 时不限制
func CheckPixels(width, height int, maxPixels int64) error {
	if maxPixels <= 0 {
		return nil
	}
	if n := int64(width) * int64(height); n > maxPixels {
		return fmt.Errorf("%w: %dx%d > %d", ErrTooManyPixels, width, height, maxPixels)
	}
	return nil
}

// CheckHeader 只读取图片头部校验尺寸
// 无法识别的格式返回 nil, 交由引擎自行读取头部后再校验
func CheckHeader(data []byte, maxPixels int64) error {
	if maxPixels <= 0 {
		return nil
	}
	cfg, _, err := goimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return CheckPixels(cfg.Width, cfg.Height, maxPixels)
}

// Output 压缩结果
type Output struct {
	Data        []byte
	Format      string
	ContentType string
	Width       int
	Height      int
}

// Compressor 图片压缩接口, 输入原始字节, 输出按目标格式重新编码的字节
type Compressor interface {
	Compress(ctx context.Context, data []byte, opts Options) (*Output, error)
	Name() string
}

// NormalizeFormat 统一格式名称
func NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "jpg" {
		return "jpeg"
	}
	return format
}

// TargetSize 计算缩放后的尺寸, 保持宽高比, 不放大
func TargetSize(width, height, maxWidth int) (int, int) {
	if width <= maxWidth || width <= 0 {
		return width, height
	}
	h := height * maxWidth / width
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}
