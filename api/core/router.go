package core

import (
	"log/slog"
	"net/http"

	"github.com/anoixa/image-proxy/api/common"
	"github.com/anoixa/image-proxy/api/handler/upload"
	"github.com/anoixa/image-proxy/api/middleware"
	"github.com/anoixa/image-proxy/config"
	"github.com/gin-gonic/gin"
)

// registerRoutes 注册所有路由
func registerRoutes(router *gin.Engine, deps *ServerDependencies, limiter *middleware.IPRateLimiter, logger *slog.Logger) {
	registerBasicRoutes(router, deps)
	registerUploadRoutes(router, deps, limiter, logger)
	registerMediaRoutes(router, deps.Config)
}

// registerBasicRoutes 注册基础路由
func registerBasicRoutes(router *gin.Engine, deps *ServerDependencies) {
	var cacheChecker HealthChecker
	if deps.Cache != nil {
		cacheChecker = deps.Cache
	}
	healthHandler := NewHealthHandler(cacheChecker, deps.Uploader)
	router.GET("/health", healthHandler.Handle)

	router.GET("/version", func(context *gin.Context) {
		common.RespondSuccess(context, gin.H{
			"version": config.Version,
			"commit":  config.CommitHash,
		})
	})

	router.GET("/metrics", func(context *gin.Context) {
		metrics := gin.H{"http": middleware.GetMetrics()}
		if deps.Cache != nil {
			metrics["cache"] = deps.Cache.Stats()
		}
		if deps.Pool != nil {
			metrics["worker_pool"] = deps.Pool.Stats()
		}
		if deps.Proxy != nil {
			metrics["proxy"] = deps.Proxy.Stats()
		}
		context.JSON(http.StatusOK, metrics)
	})
}

// registerUploadRoutes 注册图片代理接口
func registerUploadRoutes(router *gin.Engine, deps *ServerDependencies, limiter *middleware.IPRateLimiter, logger *slog.Logger) {
	handler := upload.NewHandler(deps.Proxy, logger)

	group := router.Group("/upload")
	group.Use(func(context *gin.Context) {
		context.Header("Cache-Control", "no-store")
		context.Next()
	})
	if limiter != nil {
		group.Use(limiter.Middleware())
	}
	{
		group.POST("", handler.Upload)  // POST /upload
		group.POST("/", handler.Upload) // POST /upload/
	}
}

// registerMediaRoutes 本地存储时直接提供已上传的图片
func registerMediaRoutes(router *gin.Engine, cfg *config.Config) {
	if cfg.UploadBackend != config.BackendLocal || !cfg.LocalServe {
		return
	}
	router.Static("/media", cfg.LocalPath)
}
