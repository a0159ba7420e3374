package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/anoixa/image-proxy/api/common"
	"github.com/gin-gonic/gin"
)

// Recovery 捕获 handler 中的 panic, 返回统一的 500 响应
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "Recovery")

	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"request_id", GetRequestID(c),
					"stack", string(debug.Stack()))
				common.RespondErrorAbort(c, http.StatusInternalServerError, common.MsgInternalError)
			}
		}()
		c.Next()
	}
}
