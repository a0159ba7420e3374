package core

import (
	"context"
	"net/http"
	"time"

	"github.com/anoixa/image-proxy/config"
	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker 可检查健康状态的组件
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler 健康检查
type HealthHandler struct {
	cache   HealthChecker
	storage HealthChecker
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(cache, storage HealthChecker) *HealthHandler {
	return &HealthHandler{cache: cache, storage: storage}
}

// Handle GET /health, 任一检查失败时返回 503
func (h *HealthHandler) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	checks := gin.H{
		"cache":   check(ctx, h.cache),
		"storage": check(ctx, h.storage),
	}

	status, httpStatus := "ok", http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			status, httpStatus = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":  status,
		"uptime":  time.Since(startTime).Round(time.Second).String(),
		"version": config.Version,
		"checks":  checks,
	})
}

func check(ctx context.Context, checker HealthChecker) string {
	if checker == nil {
		return "not initialized"
	}
	if err := checker.Health(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
