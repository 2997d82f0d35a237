package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/aihub/genai-rag/internal/logger"
	"github.com/aihub/genai-rag/internal/metrics"
	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

const requestStartKey = "request_start"

// RouteGroup 将请求路径归并为路由组，/api/query/prompt → query
func RouteGroup(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "root"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "api" {
		if len(parts) > 1 {
			return parts[1]
		}
		return "api"
	}
	return parts[0]
}

// RequestStart 记录请求开始时间
func RequestStart() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		ctx.Input.SetData(requestStartKey, time.Now())
	}
}

// RequestFinished 记录请求日志与指标，需以 WithReturnOnOutput(false) 挂载
func RequestFinished(m *metrics.Metrics) web.FilterFunc {
	log := logger.Named("http")
	return func(ctx *beecontext.Context) {
		start, ok := ctx.Input.GetData(requestStartKey).(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(start)

		status := ctx.ResponseWriter.Status
		if status == 0 {
			status = http.StatusOK
		}
		group := RouteGroup(ctx.Input.URL())
		m.ObserveRequest(group, ctx.Input.Method(), status, elapsed)

		fields := []zap.Field{
			zap.String("method", ctx.Input.Method()),
			zap.String("path", ctx.Input.URL()),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("remote_addr", getClientIP(ctx)),
		}
		switch {
		case status >= 500:
			log.Error("Request completed", fields...)
		case status >= 400:
			log.Warn("Request completed", fields...)
		default:
			log.Info("Request completed", fields...)
		}
	}
}
