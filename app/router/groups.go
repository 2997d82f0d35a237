package router

import (
	"strings"

	"github.com/beego/beego/v2/server/web"
)

// RouteGroup 共享前缀、控制器与过滤器的一组路由
type RouteGroup struct {
	prefix     string
	controller web.ControllerInterface
	filters    []web.FilterFunc
	routes     []Route
}

// Route 路由定义
type Route struct {
	Method  string
	Path    string
	Handler string
}

// RouteDefinition 展开前缀后的完整路由
type RouteDefinition struct {
	Method  string
	Path    string
	Handler string
}

// NewRouteGroup 创建路由组
func NewRouteGroup(prefix string, controller web.ControllerInterface) *RouteGroup {
	return &RouteGroup{prefix: strings.TrimRight(prefix, "/"), controller: controller}
}

// Use 添加组内过滤器，在路由匹配前执行
func (rg *RouteGroup) Use(filters ...web.FilterFunc) *RouteGroup {
	rg.filters = append(rg.filters, filters...)
	return rg
}

// GET 添加GET路由
func (rg *RouteGroup) GET(path, handler string) *RouteGroup {
	rg.routes = append(rg.routes, Route{Method: "get", Path: path, Handler: handler})
	return rg
}

// POST 添加POST路由
func (rg *RouteGroup) POST(path, handler string) *RouteGroup {
	rg.routes = append(rg.routes, Route{Method: "post", Path: path, Handler: handler})
	return rg
}

// Register 将路由与组过滤器注册到应用
func (rg *RouteGroup) Register(app *web.HttpServer) {
	if rg.prefix != "" {
		for _, filter := range rg.filters {
			app.InsertFilter(rg.prefix+"/*", web.BeforeRouter, filter)
		}
	}
	for _, def := range rg.Routes() {
		app.Router(def.Path, rg.controller, def.Method+":"+def.Handler)
	}
}

// Routes 获取组内所有路由定义
func (rg *RouteGroup) Routes() []RouteDefinition {
	defs := make([]RouteDefinition, 0, len(rg.routes))
	for _, r := range rg.routes {
		path := rg.prefix + r.Path
		if path == "" {
			path = "/"
		}
		defs = append(defs, RouteDefinition{Method: r.Method, Path: path, Handler: r.Handler})
	}
	return defs
}
