package image

import (
	"bytes"
	"context"
	"fmt"
	goimage "image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/anoixa/image-proxy/utils"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// NativeCompressor 纯 Go 实现, 不依赖 cgo
// 可解码 jpeg/png/gif/webp/bmp, 仅能输出 jpeg 与 png
type NativeCompressor struct{}

// NewNativeCompressor 创建纯 Go 压缩器
func NewNativeCompressor() *NativeCompressor {
	return &NativeCompressor{}
}

// Name 返回引擎名称
func (c *NativeCompressor) Name() string {
	return "native"
}

// Compress 解码, 按最大宽度缩放后重新编码
func (c *NativeCompressor) Compress(ctx context.Context, data []byte, opts Options) (*Output, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	format := NormalizeFormat(opts.Format)
	if format != "jpeg" && format != "png" {
		return nil, fmt.Errorf("%w: %s (native engine)", ErrUnsupportedFormat, format)
	}

	// 先读头部, 避免解码超大尺寸图片时占满内存
	header, _, err := goimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if err := CheckPixels(header.Width, header.Height, opts.MaxPixels); err != nil {
		return nil, err
	}

	img, _, err := goimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	newWidth, newHeight := TargetSize(bounds.Dx(), bounds.Dy(), opts.Width)

	resized := img
	if newWidth != bounds.Dx() {
		dst := goimage.NewRGBA(goimage.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		resized = dst
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: opts.Quality})
	case "png":
		enc := png.Encoder{CompressionLevel: pngLevel(opts.Quality)}
		err = enc.Encode(&buf, resized)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}

	return &Output{
		Data:        buf.Bytes(),
		Format:      format,
		ContentType: utils.MimeForFormat(format),
		Width:       newWidth,
		Height:      newHeight,
	}, nil
}

// pngLevel 质量越低压缩越狠
func pngLevel(quality int) png.CompressionLevel {
	switch {
	case quality <= 50:
		return png.BestCompression
	case quality >= 90:
		return png.BestSpeed
	default:
		return png.DefaultCompression
	}
}
