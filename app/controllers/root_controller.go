package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aihub/genai-rag/internal/database"
	"github.com/aihub/genai-rag/internal/di"
)

// RootController 首页与健康检查
type RootController struct {
	BaseController
}

// Welcome GET /
func (c *RootController) Welcome() {
	c.JSON(http.StatusOK, map[string]string{"message": "Welcome to the Gen AI API"})
}

// Health GET /health
func (c *RootController) Health() {
	var registry *database.HealthRegistry
	if container := di.GetContainer(); container != nil {
		_ = container.Invoke(func(r *database.HealthRegistry) { registry = r })
	}
	if registry == nil {
		c.JSON(http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now().UTC()})
		return
	}

	results, healthy := registry.CheckAll(c.Ctx.Request.Context())
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, map[string]interface{}{
		"status":     status,
		"time":       time.Now().UTC(),
		"components": results,
	})
}

// jsonBody 宽松解析JSON，空请求体视为空对象
func jsonBody(body []byte, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
