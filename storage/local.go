package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalStorage 本地文件存储实现
type LocalStorage struct {
	absBasePath string
	publicURL   string
}

// NewLocalStorage 创建本地存储提供者
func NewLocalStorage(basePath, publicURL string) (*LocalStorage, error) {
	if publicURL == "" {
		return nil, fmt.Errorf("local public url is required")
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for '%s': %w", basePath, err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local storage directory '%s': %w", absPath, err)
	}

	testFile := filepath.Join(absPath, ".write_test_"+strconv.FormatInt(time.Now().UnixNano(), 10))
	f, err := os.Create(testFile)
	if err != nil {
		return nil, fmt.Errorf("local storage directory '%s' is not writable: %w", absPath, err)
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	return &LocalStorage{
		absBasePath: absPath + string(os.PathSeparator),
		publicURL:   publicURL,
	}, nil
}

// Upload 写入本地目录, 先写临时文件再重命名, 读者不会看到半个文件
func (s *LocalStorage) Upload(ctx context.Context, obj *Object) (*Result, error) {
	if err := validateObject(obj); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dstPath := filepath.Join(s.absBasePath, obj.Key)
	if !strings.HasPrefix(dstPath, s.absBasePath) {
		return nil, fmt.Errorf("invalid file path, potential directory traversal: %s", obj.Key)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for '%s': %w", obj.Key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for '%s': %w", obj.Key, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(obj.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write file content to '%s': %w", dstPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close temp file for '%s': %w", dstPath, err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to move file into place '%s': %w", dstPath, err)
	}

	return &Result{
		URL:   joinURL(s.publicURL, obj.Key),
		Key:   obj.Key,
		Bytes: int64(len(obj.Data)),
	}, nil
}

// Health 检查存储健康状态
func (s *LocalStorage) Health(ctx context.Context) error {
	_, err := os.ReadDir(s.absBasePath)
	return err
}

// Name 返回存储名称
func (s *LocalStorage) Name() string {
	return "local"
}

// BasePath 返回存储的基础路径
func (s *LocalStorage) BasePath() string {
	return s.absBasePath
}
