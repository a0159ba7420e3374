package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryConfig Cloudinary 配置
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	// UploadPrefix API 地址前缀, 为空时使用官方地址
	UploadPrefix string
	// Width / Quality 作为服务端变换参数, 与本地压缩一致
	Width   int
	Quality int
}

// CloudinaryStorage Cloudinary 媒体托管
type CloudinaryStorage struct {
	cld            *cloudinary.Cloudinary
	transformation string
}

// NewCloudinaryStorage 创建 Cloudinary 上传器
func NewCloudinaryStorage(cfg CloudinaryConfig) (*CloudinaryStorage, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary cloud name, api key and api secret are required")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary client: %w", err)
	}
	if cfg.UploadPrefix != "" {
		cld.Config.API.UploadPrefix = strings.TrimRight(cfg.UploadPrefix, "/")
	}

	return &CloudinaryStorage{
		cld:            cld,
		transformation: cloudinaryTransformation(cfg.Width, cfg.Quality),
	}, nil
}

// cloudinaryTransformation 生成 c_scale,w_600/q_40 形式的变换串
func cloudinaryTransformation(width, quality int) string {
	var parts []string
	if width > 0 {
		parts = append(parts, fmt.Sprintf("c_scale,w_%d", width))
	}
	if quality > 0 {
		parts = append(parts, fmt.Sprintf("q_%d", quality))
	}
	return strings.Join(parts, "/")
}

// Upload 上传到 Cloudinary, 对象键拆分为 folder 与 public id
func (s *CloudinaryStorage) Upload(ctx context.Context, obj *Object) (*Result, error) {
	if err := validateObject(obj); err != nil {
		return nil, err
	}

	folder, publicID := splitKey(obj.Key)

	params := uploader.UploadParams{
		PublicID:       publicID,
		Folder:         folder,
		Format:         obj.Format,
		ResourceType:   "image",
		Transformation: s.transformation,
		Overwrite:      api.Bool(true),
	}

	resp, err := s.cld.Upload.Upload(ctx, bytes.NewReader(obj.Data), params)
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload failed: %w", err)
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary upload failed: %s", resp.Error.Message)
	}
	if resp.SecureURL == "" {
		return nil, fmt.Errorf("cloudinary upload returned no secure_url")
	}

	return &Result{
		URL:   resp.SecureURL,
		Key:   resp.PublicID,
		Bytes: int64(resp.Bytes),
	}, nil
}

// splitKey comicspie/abc.webp -> (comicspie, abc)
func splitKey(key string) (folder, publicID string) {
	dir, file := path.Split(key)
	folder = strings.Trim(dir, "/")
	publicID = strings.TrimSuffix(file, path.Ext(file))
	return folder, publicID
}

// Health 调用 Admin API 的 ping
func (s *CloudinaryStorage) Health(ctx context.Context) error {
	resp, err := s.cld.Admin.Ping(ctx)
	if err != nil {
		return fmt.Errorf("cloudinary ping failed: %w", err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("cloudinary ping failed: %s", resp.Error.Message)
	}
	return nil
}

// Name 返回存储名称
func (s *CloudinaryStorage) Name() string {
	return "cloudinary"
}
