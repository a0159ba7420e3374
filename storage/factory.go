package storage

import (
	"fmt"
	"log/slog"

	"github.com/anoixa/image-proxy/config"
)

// NewFromConfig 按 upload_backend 创建上传器
func NewFromConfig(cfg *config.Config) (Uploader, error) {
	var (
		uploader Uploader
		err      error
	)

	switch cfg.UploadBackend {
	case config.BackendCloudinary, "":
		uploader, err = NewCloudinaryStorage(CloudinaryConfig{
			CloudName:    cfg.CloudinaryCloudName,
			APIKey:       cfg.CloudinaryAPIKey,
			APISecret:    cfg.CloudinaryAPISecret,
			UploadPrefix: cfg.CloudinaryUploadPrefix,
			Width:        cfg.CompressWidth,
			Quality:      cfg.CompressQuality,
		})
	case config.BackendMinio:
		uploader, err = NewMinioStorage(MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
			PublicURL: cfg.MinioPublicURL,
		})
	case config.BackendWebDAV:
		uploader, err = NewWebDAVStorage(WebDAVConfig{
			URL:       cfg.WebDAVURL,
			Username:  cfg.WebDAVUsername,
			Password:  cfg.WebDAVPassword,
			RootPath:  cfg.WebDAVRootPath,
			PublicURL: cfg.WebDAVPublicURL,
			Timeout:   cfg.UploadTimeout,
		})
	case config.BackendLocal:
		uploader, err = NewLocalStorage(cfg.LocalPath, cfg.LocalPublicURL)
	default:
		return nil, fmt.Errorf("unsupported upload backend: %s", cfg.UploadBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s uploader: %w", cfg.UploadBackend, err)
	}

	slog.Info("uploader ready", "component", "Storage", "backend", uploader.Name())
	return uploader, nil
}
