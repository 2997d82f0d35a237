package middleware

import (
	"net/http"
	"strings"

	"github.com/beego/beego/v2/server/web"
	"github.com/beego/beego/v2/server/web/context"
)

const corsAllowMethods = "GET,HEAD,PUT,PATCH,POST,DELETE"

// CORS 跨域过滤器，仅对白名单内的源回写 Access-Control-Allow-Origin
func CORS(allowedOrigins []string) web.FilterFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(ctx *context.Context) {
		origin := ctx.Input.Header("Origin")
		ctx.Output.Header("Vary", "Origin")

		if _, ok := allowed[origin]; ok && origin != "" {
			ctx.Output.Header("Access-Control-Allow-Origin", origin)
			ctx.Output.Header("Access-Control-Allow-Credentials", "true")
			ctx.Output.Header("Access-Control-Expose-Headers", "X-Chat-History-Id, RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset")
		}

		// 处理OPTIONS预检请求
		if ctx.Input.Method() == http.MethodOptions {
			ctx.Output.Header("Access-Control-Allow-Methods", corsAllowMethods)
			if reqHeaders := ctx.Input.Header("Access-Control-Request-Headers"); reqHeaders != "" {
				ctx.Output.Header("Access-Control-Allow-Headers", reqHeaders)
			}
			ctx.Output.Header("Content-Length", "0")
			ctx.Output.SetStatus(http.StatusNoContent)
			_ = ctx.Output.Body([]byte(""))
		}
	}
}
