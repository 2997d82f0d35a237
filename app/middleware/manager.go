package middleware

import (
	"net"
	"strings"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
)

type routeFilter struct {
	pattern string
	pos     int
	filter  web.FilterFunc
	opts    []web.FilterOpt
}

// MiddlewareManager 中间件管理器，按注册顺序挂载过滤器
type MiddlewareManager struct {
	globalFilters []web.FilterFunc
	routeFilters  []routeFilter
}

// NewMiddlewareManager 创建中间件管理器
func NewMiddlewareManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// AddGlobalFilter 添加全局过滤器
func (mm *MiddlewareManager) AddGlobalFilter(filter web.FilterFunc) {
	mm.globalFilters = append(mm.globalFilters, filter)
}

// AddRouteFilter 添加路由特定过滤器
func (mm *MiddlewareManager) AddRouteFilter(pattern string, pos int, filter web.FilterFunc, opts ...web.FilterOpt) {
	mm.routeFilters = append(mm.routeFilters, routeFilter{pattern: pattern, pos: pos, filter: filter, opts: opts})
}

// ApplyAllFilters 将过滤器注册到应用，全局过滤器先于路由过滤器
func (mm *MiddlewareManager) ApplyAllFilters(app *web.HttpServer) {
	for _, filter := range mm.globalFilters {
		app.InsertFilter("*", web.BeforeRouter, filter)
	}
	for _, rf := range mm.routeFilters {
		app.InsertFilter(rf.pattern, rf.pos, rf.filter, rf.opts...)
	}
}

// ClientResolver 解析限流使用的客户端IP，只有来自可信代理的请求才采信 X-Forwarded-For
type ClientResolver struct {
	trusted []*net.IPNet
}

// NewClientResolver 由IP或CIDR列表创建解析器，无法解析的条目被忽略
func NewClientResolver(trustedProxies []string) *ClientResolver {
	r := &ClientResolver{}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				bits := 8 * net.IPv4len
				if ip.To4() == nil {
					bits = 8 * net.IPv6len
				}
				r.trusted = append(r.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			}
			continue
		}
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			r.trusted = append(r.trusted, ipNet)
		}
	}
	return r
}

func (r *ClientResolver) isTrusted(addr string) bool {
	if r == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range r.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP 对端为可信代理时，从右向左跳过可信代理取第一个地址，否则使用对端地址
func (r *ClientResolver) ClientIP(ctx *beecontext.Context) string {
	peer := getClientIP(ctx)
	if !r.isTrusted(peer) {
		return peer
	}

	xff := ctx.Input.Header("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			return peer
		}
		if !r.isTrusted(hop) {
			return hop
		}
	}
	// 整条链都是可信代理时取最左侧
	return strings.TrimSpace(hops[0])
}

// getClientIP 获取TCP对端IP，不读取任何代理头
func getClientIP(ctx *beecontext.Context) string {
	if ctx.Request == nil || ctx.Request.RemoteAddr == "" {
		return ""
	}
	addr := ctx.Request.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
