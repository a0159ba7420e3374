package upload

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/anoixa/image-proxy/api/common"
	"github.com/anoixa/image-proxy/internal/proxy"
	"github.com/anoixa/image-proxy/utils"
	"github.com/gin-gonic/gin"
)

// Resolver 查询源地址对应的可用地址
type Resolver interface {
	Resolve(ctx context.Context, sourceURL string) (*proxy.Resolution, error)
}

// Handler 图片代理上传处理器
type Handler struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewHandler 创建处理器
func NewHandler(resolver Resolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		resolver: resolver,
		logger:   logger.With("component", "UploadHandler"),
	}
}

type uploadRequest struct {
	ImageURL string `json:"imageUrl"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload 处理 POST /upload
// 命中缓存时返回托管地址, 否则立即返回源地址并在后台上传
func (h *Handler) Upload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ImageURL == "" {
		common.RespondError(c, http.StatusBadRequest, proxy.ErrEmptySourceURL.Error())
		return
	}

	res, err := h.resolver.Resolve(c.Request.Context(), req.ImageURL)
	if err != nil {
		if errors.Is(err, proxy.ErrEmptySourceURL) {
			common.RespondError(c, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("resolve failed", "source_url", utils.SanitizeLogURL(req.ImageURL), "error", err)
		common.RespondError(c, http.StatusInternalServerError, common.MsgInternalError)
		return
	}

	if res.Cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.JSON(http.StatusOK, uploadResponse{URL: res.URL})
}
