package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// PingFunc 依赖探活函数
type PingFunc func(ctx context.Context) error

func SQLPinger(db *sql.DB) PingFunc {
	return db.PingContext
}

func MongoPinger(client *mongo.Client) PingFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
}

func RedisPinger(rdb *redis.Client) PingFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// HealthChecker 单个依赖的健康检查器
type HealthChecker struct {
	name          string
	ping          PingFunc
	logger        *logrus.Logger
	checkInterval time.Duration
	timeout       time.Duration

	mu           sync.RWMutex
	isHealthy    bool
	lastCheck    time.Time
	lastError    error
	responseTime time.Duration
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastError    string    `json:"last_error,omitempty"`
	ResponseTime string    `json:"response_time,omitempty"`
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(name string, ping PingFunc, logger *logrus.Logger) *HealthChecker {
	return &HealthChecker{
		name:          name,
		ping:          ping,
		logger:        logger,
		checkInterval: 30 * time.Second,
		timeout:       5 * time.Second,
	}
}

func (hc *HealthChecker) Name() string {
	return hc.name
}

// SetCheckInterval 设置检查间隔
func (hc *HealthChecker) SetCheckInterval(interval time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkInterval = interval
}

// Start 周期检查，直到ctx结束
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.RLock()
	interval := hc.checkInterval
	hc.mu.RUnlock()

	_ = hc.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hc.logger.WithField("dependency", hc.name).Debug("Health checker stopped")
			return
		case <-ticker.C:
			_ = hc.Check(ctx)
		}
	}
}

// Check 执行单次健康检查
func (hc *HealthChecker) Check(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	err := hc.ping(ctx)
	responseTime := time.Since(start)

	hc.mu.Lock()
	wasHealthy := hc.isHealthy
	hc.lastCheck = time.Now()
	hc.responseTime = responseTime
	hc.lastError = err
	hc.isHealthy = err == nil
	hc.mu.Unlock()

	fields := logrus.Fields{"dependency": hc.name, "response_time": responseTime}
	if err != nil {
		fields["error"] = err.Error()
		hc.logger.WithFields(fields).Warn("Health check failed")
		return err
	}
	if !wasHealthy {
		hc.logger.WithFields(fields).Info("Dependency healthy")
	}
	return nil
}

// IsHealthy 获取当前健康状态
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.isHealthy
}

// GetHealthResult 获取最近一次检查结果
func (hc *HealthChecker) GetHealthResult() HealthCheckResult {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	result := HealthCheckResult{
		Healthy:   hc.isHealthy,
		LastCheck: hc.lastCheck,
	}
	if hc.lastError != nil {
		result.LastError = hc.lastError.Error()
	}
	if !hc.lastCheck.IsZero() {
		result.ResponseTime = hc.responseTime.String()
	}
	return result
}

// HealthRegistry 汇总多个依赖的健康状态
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers []*HealthChecker
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{}
}

func (r *HealthRegistry) Register(checker *HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, checker)
}

// CheckAll 立即检查所有依赖，任一失败则整体不健康
func (r *HealthRegistry) CheckAll(ctx context.Context) (map[string]HealthCheckResult, bool) {
	r.mu.RLock()
	checkers := append([]*HealthChecker(nil), r.checkers...)
	r.mu.RUnlock()

	results := make(map[string]HealthCheckResult, len(checkers))
	healthy := true
	for _, c := range checkers {
		if err := c.Check(ctx); err != nil {
			healthy = false
		}
		results[c.Name()] = c.GetHealthResult()
	}
	return results, healthy
}

// StartAll 为每个依赖启动后台检查
func (r *HealthRegistry) StartAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.checkers {
		go c.Start(ctx)
	}
}
