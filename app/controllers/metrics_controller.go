package controllers

import (
	"net/http"

	"github.com/aihub/genai-rag/internal/di"
	"github.com/aihub/genai-rag/internal/metrics"
)

// MetricsController 指标控制器
type MetricsController struct {
	BaseController
	metrics *metrics.Metrics
}

// Prepare 从DI容器获取指标，未启用时为nil
func (c *MetricsController) Prepare() {
	if container := di.GetContainer(); container != nil {
		_ = container.Invoke(func(m *metrics.Metrics) { c.metrics = m })
	}
}

// Metrics 返回Prometheus格式的指标
func (c *MetricsController) Metrics() {
	if c.metrics == nil {
		c.Text(http.StatusNotFound, "metrics disabled")
		return
	}
	c.metrics.Handler().ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}
