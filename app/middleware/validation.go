package middleware

import (
	"net/http"
	"strings"

	"github.com/beego/beego/v2/server/web"
	"github.com/beego/beego/v2/server/web/context"
)

var allowedContentTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
	"text/plain",
}

// RequestLimits 拒绝超出大小上限或内容类型不受支持的请求
func RequestLimits(maxBytes int64) web.FilterFunc {
	return func(ctx *context.Context) {
		if detectOversizedRequest(ctx, maxBytes) {
			ctx.Output.SetStatus(http.StatusRequestEntityTooLarge)
			_ = ctx.Output.JSON(map[string]interface{}{
				"success": false,
				"error":   "Request too large",
			}, false, false)
			return
		}

		if !validateContentType(ctx) {
			ctx.Output.SetStatus(http.StatusUnsupportedMediaType)
			_ = ctx.Output.JSON(map[string]interface{}{
				"success": false,
				"error":   "Unsupported content type",
			}, false, false)
			return
		}
	}
}

func detectOversizedRequest(ctx *context.Context, maxBytes int64) bool {
	if maxBytes <= 0 {
		return false
	}
	return ctx.Request.ContentLength > maxBytes
}

// validateContentType 只检查带请求体的方法，忽略charset等参数
func validateContentType(ctx *context.Context) bool {
	switch ctx.Input.Method() {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return true
	}

	contentType := ctx.Request.Header.Get("Content-Type")
	if contentType == "" {
		return true
	}
	contentType = strings.ToLower(contentType)
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(contentType, allowed) {
			return true
		}
	}
	return false
}
