package middleware

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestLimits(t *testing.T) {
	filter := RequestLimits(1024)

	ctx, w := newFilterContext(http.MethodPost, "/api/train/train-using-pdf", map[string]string{"Content-Type": "multipart/form-data; boundary=x"})
	ctx.Request.ContentLength = 4096
	filter(ctx)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	ctx, w = newFilterContext(http.MethodPost, "/api/query/prompt", map[string]string{"Content-Type": "application/xml"})
	filter(ctx)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	ctx, w = newFilterContext(http.MethodPost, "/api/query/prompt", map[string]string{"Content-Type": "application/json; charset=utf-8"})
	filter(ctx)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ctx.ResponseWriter.Started)

	ctx, w = newFilterContext(http.MethodGet, "/api/sources/chathistory", map[string]string{"Content-Type": "application/xml"})
	filter(ctx)
	assert.Equal(t, http.StatusOK, w.Code)
}
