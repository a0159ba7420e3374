package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyObject 上传内容为空
var ErrEmptyObject = errors.New("empty object")

// Object 待上传的对象
type Object struct {
	// Key 对象键, 如 comicspie/0b7c...e1.webp
	Key string
	// Data 压缩后的图片数据
	Data []byte
	// ContentType MIME 类型
	ContentType string
	// Format 图片格式, 如 webp
	Format string
}

// Result 上传结果
type Result struct {
	// URL 公开访问地址
	URL string
	// Key 后端实际使用的对象键
	Key string
	// Bytes 后端记录的字节数
	Bytes int64
}

// Uploader 远程媒体上传接口, 输入缓冲区, 输出公开地址
type Uploader interface {
	// Upload 上传对象并返回公开地址
	Upload(ctx context.Context, obj *Object) (*Result, error)

	// Health 检查存储健康状态
	Health(ctx context.Context) error

	// Name 返回存储名称
	Name() string
}

func validateObject(obj *Object) error {
	if obj == nil || len(obj.Data) == 0 {
		return ErrEmptyObject
	}
	if !IsValidStoragePath(obj.Key) {
		return fmt.Errorf("invalid storage path: %s", obj.Key)
	}
	return nil
}
