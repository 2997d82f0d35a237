package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aihub/genai-rag/internal/logger"
	"github.com/aihub/genai-rag/internal/metrics"
	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitMessage 超限时的响应正文
const RateLimitMessage = "Too many requests, please try again later."

// Decision 一次限流判定结果
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// Limiter 滑动窗口限流器
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// RatePolicy 路由组的限流策略，上限可在运行时替换
type RatePolicy struct {
	Group  string
	Window time.Duration
	limit  atomic.Int64
}

// NewRatePolicy 创建限流策略
func NewRatePolicy(group string, limit int, window time.Duration) *RatePolicy {
	if window <= 0 {
		window = time.Minute
	}
	p := &RatePolicy{Group: group, Window: window}
	p.SetLimit(limit)
	return p
}

// SetLimit 更新窗口内请求上限
func (p *RatePolicy) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	p.limit.Store(int64(limit))
}

// Limit 当前上限
func (p *RatePolicy) Limit() int {
	return int(p.limit.Load())
}

// MemoryLimiter 进程内滑动窗口限流器
type MemoryLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	now     func() time.Time
}

// NewMemoryLimiter 创建内存限流器
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow 检查是否允许请求
func (rl *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-window)

	// 移除过期请求
	valid := rl.clients[key][:0]
	for _, reqTime := range rl.clients[key] {
		if reqTime.After(windowStart) {
			valid = append(valid, reqTime)
		}
	}

	d := Decision{Limit: limit}
	if len(valid) < limit {
		valid = append(valid, now)
		d.Allowed = true
	}
	d.Remaining = limit - len(valid)
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.Reset = window
	if len(valid) > 0 {
		d.Reset = valid[0].Add(window).Sub(now)
	}
	rl.clients[key] = valid
	return d, nil
}

// Cleanup 清理窗口外的客户端记录
func (rl *MemoryLimiter) Cleanup(window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := rl.now().Add(-window)
	for key, requests := range rl.clients {
		if len(requests) == 0 || !requests[len(requests)-1].After(windowStart) {
			delete(rl.clients, key)
		}
	}
}

// Run 周期性清理，直到ctx结束
func (rl *MemoryLimiter) Run(ctx context.Context, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup(window)
		}
	}
}

// slidingWindowScript 以有序集合记录窗口内请求，返回 {allowed, count, reset_ms}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local reset = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window - now
end
return {allowed, count, reset}
`)

// RedisLimiter 多实例共享的滑动窗口限流器
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter 创建Redis限流器
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, rl.client,
		[]string{rl.prefix + ":" + key},
		now, window.Milliseconds(), limit, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply: %v", res)
	}

	d := Decision{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: limit - int(res[1]),
		Reset:     time.Duration(res[2]) * time.Millisecond,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// RateLimit 按客户端IP限流的过滤器，限流器出错时放行；clients 为 nil 时只按对端地址计数
func RateLimit(policy *RatePolicy, limiter Limiter, clients *ClientResolver, m *metrics.Metrics) web.FilterFunc {
	log := logger.Named("ratelimit")
	return func(ctx *beecontext.Context) {
		if ctx.Input.Method() == http.MethodOptions {
			return
		}

		limit := policy.Limit()
		key := policy.Group + ":" + clients.ClientIP(ctx)
		d, err := limiter.Allow(ctx.Request.Context(), key, limit, policy.Window)
		if err != nil {
			log.Warn("Rate limiter unavailable, allowing request", zap.String("group", policy.Group), zap.Error(err))
			return
		}

		writeRateLimitHeaders(ctx, policy, d)
		if d.Allowed {
			return
		}

		m.IncRateLimited(policy.Group)
		ctx.Output.Header("Retry-After", strconv.Itoa(resetSeconds(d.Reset)))
		ctx.Output.Header("Content-Type", "text/plain; charset=utf-8")
		ctx.Output.SetStatus(http.StatusTooManyRequests)
		_ = ctx.Output.Body([]byte(RateLimitMessage))
	}
}

func writeRateLimitHeaders(ctx *beecontext.Context, policy *RatePolicy, d Decision) {
	ctx.Output.Header("RateLimit-Policy", fmt.Sprintf("%d;w=%d", d.Limit, int(policy.Window.Seconds())))
	ctx.Output.Header("RateLimit-Limit", strconv.Itoa(d.Limit))
	ctx.Output.Header("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	ctx.Output.Header("RateLimit-Reset", strconv.Itoa(resetSeconds(d.Reset)))
}

func resetSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
