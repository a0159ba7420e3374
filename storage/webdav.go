package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"
)

const defaultWebDAVTimeout = 60 * time.Second

// WebDAVConfig WebDAV 配置结构
type WebDAVConfig struct {
	URL      string
	Username string
	Password string
	RootPath string
	// PublicURL 公开访问前缀, 为空时使用 <URL><RootPath>
	PublicURL string
	Timeout   time.Duration
}

// WebDAVStorage WebDAV 存储实现
type WebDAVStorage struct {
	client    *gowebdav.Client
	baseURL   string
	rootPath  string
	publicURL string
}

// NewWebDAVStorage 创建 WebDAV 存储提供者
func NewWebDAVStorage(cfg WebDAVConfig) (*WebDAVStorage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webdav URL is required")
	}

	rootPath := strings.Trim(cfg.RootPath, "/")
	if rootPath != "" {
		rootPath = "/" + rootPath
	}

	// 写操作不随 ctx 中断, 只受客户端超时限制, 因此总要设置超时
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebDAVTimeout
	}
	client := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)
	client.SetTimeout(timeout)

	s := &WebDAVStorage{
		client:   client,
		rootPath: rootPath,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
	}
	s.publicURL = cfg.PublicURL
	if s.publicURL == "" {
		s.publicURL = s.baseURL + rootPath
	}

	// 验证连接
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Health(ctx); err != nil {
		return nil, fmt.Errorf("webdav connection test failed: %w", err)
	}

	return s, nil
}

// fullPath 生成完整的 WebDAV 路径
func (s *WebDAVStorage) fullPath(storagePath string) string {
	storagePath = strings.TrimLeft(storagePath, "/")
	if s.rootPath != "" {
		return s.rootPath + "/" + storagePath
	}
	return "/" + storagePath
}

// run 在 goroutine 中执行阻塞调用, 以便响应上下文取消
// ctx 结束后调用仍在后台继续, 只用于只读操作
func run(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Upload 写入 WebDAV, 父目录不存在时递归创建
// 写入开始后不再响应 ctx 取消, 返回时请求已结束, 不会留下仍在进行的写入
func (s *WebDAVStorage) Upload(ctx context.Context, obj *Object) (*Result, error) {
	if err := validateObject(obj); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath := s.fullPath(obj.Key)

	if dir := path.Dir(fullPath); dir != "/" && dir != "." {
		if err := s.client.MkdirAll(dir, os.FileMode(0755)); err != nil {
			return nil, fmt.Errorf("failed to ensure parent directory for %s: %w", obj.Key, err)
		}
	}

	if err := s.client.Write(fullPath, obj.Data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file %s: %w", obj.Key, err)
	}

	return &Result{
		URL:   joinURL(s.publicURL, obj.Key),
		Key:   obj.Key,
		Bytes: int64(len(obj.Data)),
	}, nil
}

// Health 检查存储健康状态
func (s *WebDAVStorage) Health(ctx context.Context) error {
	return run(ctx, func() error {
		if s.client == nil {
			return nil
		}
		root := s.rootPath
		if root == "" {
			root = "/"
		}
		_, err := s.client.ReadDir(root)
		return err
	})
}

// Name 返回存储名称
func (s *WebDAVStorage) Name() string {
	return "webdav"
}
