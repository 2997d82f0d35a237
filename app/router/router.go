package router

import (
	"time"

	"github.com/aihub/genai-rag/app/controllers"
	"github.com/aihub/genai-rag/app/middleware"
	"github.com/aihub/genai-rag/internal/config"
	"github.com/aihub/genai-rag/internal/metrics"
	"github.com/beego/beego/v2/server/web"
)

// Policies 各路由组的限流策略
type Policies struct {
	Query     *middleware.RatePolicy
	Train     *middleware.RatePolicy
	Summarize *middleware.RatePolicy
}

// NewPolicies 按配置创建限流策略
func NewPolicies(cfg config.RateLimitConfig) Policies {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	return Policies{
		Query:     middleware.NewRatePolicy("query", cfg.QueryPerMinute, window),
		Train:     middleware.NewRatePolicy("train", cfg.TrainPerMinute, window),
		Summarize: middleware.NewRatePolicy("summarize", cfg.SummarizePerMinute, window),
	}
}

// Update 热更新上限，窗口长度不变
func (p Policies) Update(cfg config.RateLimitConfig) {
	p.Query.SetLimit(cfg.QueryPerMinute)
	p.Train.SetLimit(cfg.TrainPerMinute)
	p.Summarize.SetLimit(cfg.SummarizePerMinute)
}

// Options 路由与过滤器依赖
type Options struct {
	AllowedOrigins []string
	TrustedProxies []string
	MaxBodyBytes   int64
	Limiter        middleware.Limiter
	Policies       Policies
	Metrics        *metrics.Metrics
	EnableMetrics  bool
}

// Groups 构建全部路由组
func Groups(opts Options) []*RouteGroup {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = middleware.NewMemoryLimiter()
	}
	if opts.Policies.Query == nil || opts.Policies.Train == nil || opts.Policies.Summarize == nil {
		opts.Policies = NewPolicies(config.RateLimitConfig{
			QueryPerMinute:     5,
			TrainPerMinute:     2,
			SummarizePerMinute: 2,
			WindowSeconds:      60,
		})
	}

	clients := middleware.NewClientResolver(opts.TrustedProxies)

	root := NewRouteGroup("", &controllers.RootController{}).
		GET("/", "Welcome").
		GET("/health", "Health")

	query := NewRouteGroup("/api/query", &controllers.QueryController{}).
		Use(middleware.RateLimit(opts.Policies.Query, limiter, clients, opts.Metrics)).
		POST("/prompt", "Prompt").
		POST("/prompt-with-history", "PromptWithHistory")

	train := NewRouteGroup("/api/train", &controllers.TrainController{}).
		Use(middleware.RateLimit(opts.Policies.Train, limiter, clients, opts.Metrics)).
		POST("/train-using-pdf", "TrainUsingPDF").
		POST("/train-using-website", "TrainUsingWebsite").
		POST("/train-using-json", "TrainUsingJSON")

	summarize := NewRouteGroup("/api/summarize", &controllers.SummarizeController{}).
		Use(middleware.RateLimit(opts.Policies.Summarize, limiter, clients, opts.Metrics)).
		POST("/summarize-using-pdf", "SummarizeUsingPDF")

	sources := NewRouteGroup("/api/sources", &controllers.SourcesController{}).
		GET("/trained-models", "TrainedModels").
		GET("/chathistory", "ChatHistory")

	groups := []*RouteGroup{root, query, train, summarize, sources}
	if opts.EnableMetrics {
		groups = append(groups, NewRouteGroup("", &controllers.MetricsController{}).GET("/metrics", "Metrics"))
	}
	return groups
}

// Init registers all routes and filters. Must be called after config is loaded.
func Init(app *web.HttpServer, opts Options) {
	mm := middleware.NewMiddlewareManager()
	mm.AddGlobalFilter(middleware.RequestStart())
	mm.AddGlobalFilter(middleware.CORS(opts.AllowedOrigins))
	mm.AddGlobalFilter(middleware.RequestLimits(opts.MaxBodyBytes))
	mm.AddRouteFilter("*", web.FinishRouter, middleware.RequestFinished(opts.Metrics), web.WithReturnOnOutput(false))
	mm.ApplyAllFilters(app)

	for _, group := range Groups(opts) {
		group.Register(app)
	}
}
