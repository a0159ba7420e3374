package core

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/anoixa/image-proxy/api/middleware"
	"github.com/anoixa/image-proxy/cache"
	"github.com/anoixa/image-proxy/config"
	"github.com/anoixa/image-proxy/internal/proxy"
	"github.com/anoixa/image-proxy/internal/worker"
	"github.com/anoixa/image-proxy/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// ServerDependencies 服务器依赖项
type ServerDependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Proxy    *proxy.Service
	Cache    *cache.Tiered
	Uploader storage.Uploader
	Pool     *worker.Pool
}

// setupRouter 创建 gin 引擎, 返回的 cleanup 用于停止后台清理任务
func setupRouter(deps *ServerDependencies) (*gin.Engine, func()) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// 全局中间件
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AccessLog(logger))
	router.Use(middleware.Metrics())
	router.Use(cors.New(corsConfig(cfg.CORSAllowOrigins)))

	_ = router.SetTrustedProxies(nil)

	cleanup := func() {}
	var limiter *middleware.IPRateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitExpireTime)
		cleanup = limiter.StopCleanup
	}

	registerRoutes(router, deps, limiter, logger)
	return router, cleanup
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Length", "Content-Type", middleware.HeaderRequestID},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// StartServer 创建 http.Server
func StartServer(deps *ServerDependencies) (*http.Server, func()) {
	cfg := deps.Config
	router, clean := setupRouter(deps)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	return srv, clean
}
