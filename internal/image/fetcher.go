package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/anoixa/image-proxy/utils"
)

var (
	// ErrTooLarge 原图超过大小限制
	ErrTooLarge = errors.New("image exceeds size limit")
	// ErrInvalidURL 非 http(s) 地址
	ErrInvalidURL = errors.New("invalid image url")
	// ErrBlockedAddress 目标解析到回环, 内网或链路本地地址
	ErrBlockedAddress = errors.New("image host resolves to a blocked address")
)

// StatusError 上游返回非 2xx
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, utils.SanitizeLogURL(e.URL))
}

// Source 拉取到的原图
type Source struct {
	URL         string
	Data        []byte
	ContentType string
}

// Fetcher 原图下载接口
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Source, error)
}

// FetcherConfig 下载配置
type FetcherConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	// BlockPrivate 拒绝连接回环, 内网与链路本地地址, 仅在 Client 为空时生效
	BlockPrivate bool
	// Client 为空时按 Timeout 新建
	Client *http.Client
}

// HTTPFetcher 基于 net/http 的下载器
type HTTPFetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// NewHTTPFetcher 创建下载器
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		transport := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
		}
		if cfg.BlockPrivate {
			// 在解析后的地址上校验, 经代理时无法校验目标, 因此不走代理
			dialer.Control = denyPrivate
			transport.Proxy = nil
		}
		client = &http.Client{Timeout: timeout, Transport: transport}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &HTTPFetcher{
		client:    client,
		maxBytes:  maxBytes,
		userAgent: cfg.UserAgent,
	}
}

// denyPrivate 拒绝非公网地址, 重定向与 DNS 重绑定同样经过这里
func denyPrivate(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// Fetch 下载原图, 完整读入内存
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: only absolute http and https urls are allowed", ErrInvalidURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/webp,image/avif,image/apng,image/*,*/*;q=0.8")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: content-length %d > %d", ErrTooLarge, resp.ContentLength, f.maxBytes)
	}

	// 多读一个字节用于判断是否超限
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !utils.IsImageContentType(contentType) {
		contentType = utils.SniffContentType(data)
	}

	return &Source{
		URL:         rawURL,
		Data:        data,
		ContentType: contentType,
	}, nil
}
