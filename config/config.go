package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	globalConfig *Config
	once         sync.Once
)

// 压缩引擎
const (
	EngineVips   = "vips"
	EngineNative = "native"
)

// 上传后端
const (
	BackendCloudinary = "cloudinary"
	BackendMinio      = "minio"
	BackendWebDAV     = "webdav"
	BackendLocal      = "local"
)

// 内存缓存实现
const (
	MemoryLRU       = "lru"
	MemoryRistretto = "ristretto"
)

// Config 扁平化配置结构体
type Config struct {
	// 服务器配置
	ServerHost            string        `mapstructure:"server_host"`
	ServerPort            int           `mapstructure:"server_port"`
	ServerReadTimeout     time.Duration `mapstructure:"server_read_timeout"`
	ServerWriteTimeout    time.Duration `mapstructure:"server_write_timeout"`
	ServerIdleTimeout     time.Duration `mapstructure:"server_idle_timeout"`
	ServerShutdownTimeout time.Duration `mapstructure:"server_shutdown_timeout"`
	CORSAllowOrigins      []string      `mapstructure:"cors_allow_origins"`

	// 日志配置
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// 缓存配置
	CacheMemoryType     string        `mapstructure:"cache_memory_type"`
	CacheMemoryCapacity int           `mapstructure:"cache_memory_capacity"`
	RedisURL            string        `mapstructure:"redis_url"`
	CacheRedisTLS       bool          `mapstructure:"cache_redis_tls"`
	CacheRedisTimeout   time.Duration `mapstructure:"cache_redis_timeout"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	CacheKeyPrefix      string        `mapstructure:"cache_key_prefix"`
	CacheKeySeparator   string        `mapstructure:"cache_key_separator"`

	// 压缩配置
	CompressEngine      string `mapstructure:"compress_engine"`
	CompressWidth       int    `mapstructure:"compress_width"`
	CompressQuality     int    `mapstructure:"compress_quality"`
	CompressFormat      string `mapstructure:"compress_format"`
	CompressConcurrency int    `mapstructure:"compress_concurrency"`
	CompressMaxPixels   int64  `mapstructure:"compress_max_pixels"`

	// 拉取配置
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	FetchMaxSizeMB    int           `mapstructure:"fetch_max_size_mb"`
	FetchUserAgent    string        `mapstructure:"fetch_user_agent"`
	FetchBlockPrivate bool          `mapstructure:"fetch_block_private"` // 拒绝回环, 内网与链路本地地址

	// 上传配置
	UploadBackend string        `mapstructure:"upload_backend"`
	UploadFolder  string        `mapstructure:"upload_folder"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`

	CloudinaryCloudName    string `mapstructure:"cloudinary_cloud_name"`
	CloudinaryAPIKey       string `mapstructure:"cloudinary_api_key"`
	CloudinaryAPISecret    string `mapstructure:"cloudinary_api_secret"`
	CloudinaryUploadPrefix string `mapstructure:"cloudinary_upload_prefix"`

	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`
	MinioRegion    string `mapstructure:"minio_region"`
	MinioPublicURL string `mapstructure:"minio_public_url"`

	WebDAVURL       string `mapstructure:"webdav_url"`
	WebDAVUsername  string `mapstructure:"webdav_username"`
	WebDAVPassword  string `mapstructure:"webdav_password"`
	WebDAVRootPath  string `mapstructure:"webdav_root_path"`
	WebDAVPublicURL string `mapstructure:"webdav_public_url"`

	LocalPath      string `mapstructure:"local_path"`
	LocalPublicURL string `mapstructure:"local_public_url"`
	LocalServe     bool   `mapstructure:"local_serve"`

	// Worker 配置
	WorkerCount     int           `mapstructure:"worker_count"`
	WorkerQueueSize int           `mapstructure:"worker_queue_size"`
	FlowTimeout     time.Duration `mapstructure:"flow_timeout"`
	UploadDedupe    bool          `mapstructure:"upload_dedupe"`

	// 限流配置
	RateLimitRPS        float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst      int           `mapstructure:"rate_limit_burst"`
	RateLimitExpireTime time.Duration `mapstructure:"rate_limit_expire_time"`
}

// InitConfig Initialize configuration
func InitConfig() {
	once.Do(func() {
		cfg, err := Load(viper.GetViper())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
			os.Exit(1)
		}
		globalConfig = cfg
	})
}

func Get() *Config {
	return globalConfig
}

// Load 从指定 viper 实例加载配置: 默认值 -> 配置文件 -> 环境变量
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	configFile := v.GetString("config_file_path")
	if configFile == "" {
		configFile = ".env"
		v.SetConfigType("env")
	}
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Info: %s not found, using defaults and environment variables\n", configFile)
	} else {
		fmt.Fprintf(os.Stderr, "Info: Loaded configuration from %s\n", configFile)
	}

	v.AutomaticEnv()
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}
	bindLegacyEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// 服务器配置默认值
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 5000)
	v.SetDefault("server_read_timeout", "15s")
	v.SetDefault("server_write_timeout", "30s")
	v.SetDefault("server_idle_timeout", "120s")
	v.SetDefault("server_shutdown_timeout", "10s")
	v.SetDefault("cors_allow_origins", []string{"*"})

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	// 缓存配置默认值
	v.SetDefault("cache_memory_type", MemoryLRU)
	v.SetDefault("cache_memory_capacity", 500)
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_redis_tls", false)
	v.SetDefault("cache_redis_timeout", "2s")
	v.SetDefault("cache_ttl", "168h") // 7 天
	v.SetDefault("cache_key_prefix", "")
	v.SetDefault("cache_key_separator", ":")

	// 压缩配置默认值
	v.SetDefault("compress_engine", EngineVips)
	v.SetDefault("compress_width", 600)
	v.SetDefault("compress_quality", 40)
	v.SetDefault("compress_format", "webp")
	v.SetDefault("compress_concurrency", 0)
	v.SetDefault("compress_max_pixels", 50_000_000) // 约 200MB RGBA

	v.SetDefault("fetch_timeout", "30s")
	v.SetDefault("fetch_max_size_mb", 20)
	v.SetDefault("fetch_user_agent", "image-proxy/"+Version)
	v.SetDefault("fetch_block_private", false)

	// 上传配置默认值
	v.SetDefault("upload_backend", BackendCloudinary)
	v.SetDefault("upload_folder", "comicspie")
	v.SetDefault("upload_timeout", "60s")
	v.SetDefault("cloudinary_cloud_name", "")
	v.SetDefault("cloudinary_api_key", "")
	v.SetDefault("cloudinary_api_secret", "")
	v.SetDefault("cloudinary_upload_prefix", "")
	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", "images")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("minio_region", "")
	v.SetDefault("minio_public_url", "")
	v.SetDefault("webdav_url", "")
	v.SetDefault("webdav_username", "")
	v.SetDefault("webdav_password", "")
	v.SetDefault("webdav_root_path", "")
	v.SetDefault("webdav_public_url", "")
	v.SetDefault("local_path", "./data/media")
	v.SetDefault("local_public_url", "http://localhost:5000/media")
	v.SetDefault("local_serve", true)

	// Worker 配置默认值
	v.SetDefault("worker_count", 0) // 0 表示使用默认值
	v.SetDefault("worker_queue_size", 1000)
	v.SetDefault("flow_timeout", "2m")
	v.SetDefault("upload_dedupe", true)

	// 限流配置默认值, rps 为 0 时关闭
	v.SetDefault("rate_limit_rps", 0.0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("rate_limit_expire_time", "10m")
}

// bindLegacyEnv 兼容旧版部署使用的环境变量名
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("server_port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("redis_url", "REDIS_URL", "CACHE_REDIS_URL")
	_ = v.BindEnv("cloudinary_cloud_name", "CLOUDINARY_CLOUD_NAME")
	_ = v.BindEnv("cloudinary_api_key", "CLOUDINARY_API_KEY")
	_ = v.BindEnv("cloudinary_api_secret", "CLOUDINARY_API_SECRET")
}

func (c *Config) normalize() {
	c.CompressEngine = strings.ToLower(strings.TrimSpace(c.CompressEngine))
	c.CompressFormat = strings.ToLower(strings.TrimSpace(c.CompressFormat))
	c.UploadBackend = strings.ToLower(strings.TrimSpace(c.UploadBackend))
	c.CacheMemoryType = strings.ToLower(strings.TrimSpace(c.CacheMemoryType))

	// WorkerCount: -1 = 使用 CPU 线程数, 0 = 使用默认值 (max(2, CPU核心数)), >0 = 使用指定值
	switch {
	case c.WorkerCount < 0:
		c.WorkerCount = runtime.GOMAXPROCS(0)
	case c.WorkerCount == 0:
		c.WorkerCount = getCpus()
	}
	if c.CompressConcurrency <= 0 {
		c.CompressConcurrency = getCpus()
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.CompressWidth <= 0 {
		return fmt.Errorf("compress_width must be positive, got %d", c.CompressWidth)
	}
	if c.CompressQuality < 1 || c.CompressQuality > 100 {
		return fmt.Errorf("compress_quality must be within 1..100, got %d", c.CompressQuality)
	}

	if c.CompressMaxPixels <= 0 {
		return fmt.Errorf("compress_max_pixels must be positive, got %d", c.CompressMaxPixels)
	}

	switch c.CompressFormat {
	case "webp", "jpeg", "png", "avif":
	default:
		return fmt.Errorf("unsupported compress_format: %s", c.CompressFormat)
	}

	switch c.CompressEngine {
	case EngineVips:
	case EngineNative:
		if c.CompressFormat == "webp" || c.CompressFormat == "avif" {
			return fmt.Errorf("compress_engine %q cannot encode %s, use jpeg or png", c.CompressEngine, c.CompressFormat)
		}
	default:
		return fmt.Errorf("unsupported compress_engine: %s", c.CompressEngine)
	}

	switch c.UploadBackend {
	case BackendCloudinary, BackendMinio, BackendWebDAV, BackendLocal:
	default:
		return fmt.Errorf("unsupported upload_backend: %s", c.UploadBackend)
	}

	switch c.CacheMemoryType {
	case MemoryLRU, MemoryRistretto:
	default:
		return fmt.Errorf("unsupported cache_memory_type: %s", c.CacheMemoryType)
	}
	if c.CacheMemoryCapacity <= 0 {
		return fmt.Errorf("cache_memory_capacity must be positive, got %d", c.CacheMemoryCapacity)
	}

	return nil
}

// Addr 返回监听地址，格式为 "host:port"
func (c *Config) Addr() string {
	host := c.ServerHost
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.ServerPort
	if port == 0 {
		port = 5000
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// FetchMaxBytes 返回拉取原图的最大字节数
func (c *Config) FetchMaxBytes() int64 {
	if c.FetchMaxSizeMB <= 0 {
		return 20 << 20
	}
	return int64(c.FetchMaxSizeMB) << 20
}

// getCpus 获取默认线程数量
func getCpus() int {
	n := runtime.GOMAXPROCS(0)
	if n < 2 {
		return 2
	}
	return n
}
