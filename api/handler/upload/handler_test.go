package upload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anoixa/image-proxy/internal/proxy"
	"github.com/anoixa/image-proxy/utils/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeResolver struct {
	hosted map[string]string
	err    error
	calls  int
}

func (f *fakeResolver) Resolve(_ context.Context, src string) (*proxy.Resolution, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if h, ok := f.hosted[src]; ok {
		return &proxy.Resolution{URL: h, Cached: true}, nil
	}
	return &proxy.Resolution{URL: src, Scheduled: true}, nil
}

func setupTestRouter(r Resolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(r, logger.Discard())
	router.POST("/upload", h.Upload)
	return router
}

func doPost(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUpload(t *testing.T) {
	resolver := &fakeResolver{hosted: map[string]string{
		"https://x/a.png": "https://res.cloudinary.com/demo/image/upload/comicspie/a.webp",
	}}
	router := setupTestRouter(resolver)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
		wantCache  string
	}{
		{
			name:       "cache hit",
			body:       `{"imageUrl":"https://x/a.png"}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"url":"https://res.cloudinary.com/demo/image/upload/comicspie/a.webp"}`,
			wantCache:  "HIT",
		},
		{
			name:       "cache miss returns source",
			body:       `{"imageUrl":"https://x/b.png"}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"url":"https://x/b.png"}`,
			wantCache:  "MISS",
		},
		{
			name:       "empty body",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"imageUrl is required"}`,
		},
		{
			name:       "empty string",
			body:       `{"imageUrl":""}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"imageUrl is required"}`,
		},
		{
			name:       "non string",
			body:       `{"imageUrl":42}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"imageUrl is required"}`,
		},
		{
			name:       "malformed json",
			body:       `{"imageUrl":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"imageUrl is required"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doPost(router, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			if tt.wantCache != "" {
				assert.Equal(t, tt.wantCache, w.Header().Get("X-Cache"))
			}
		})
	}

	assert.Equal(t, 2, resolver.calls, "invalid requests must not reach the resolver")
}

func TestUploadInternalError(t *testing.T) {
	router := setupTestRouter(&fakeResolver{err: errors.New("boom")})

	w := doPost(router, `{"imageUrl":"https://x/a.png"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Something went wrong"}`, w.Body.String())
}
