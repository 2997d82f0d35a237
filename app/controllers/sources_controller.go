package controllers

import (
	"net/http"

	"github.com/aihub/genai-rag/internal/services"
)

// SourcesController 已训练来源与对话历史列表
type SourcesController struct {
	BaseController
	sourceService *services.SourceService
}

func (c *SourcesController) Prepare() {
	c.inject(func(ss *services.SourceService) {
		c.sourceService = ss
	})
}

// TrainedModels GET /api/sources/trained-models
func (c *SourcesController) TrainedModels() {
	sources, err := c.sourceService.TrainedModels(c.Ctx.Request.Context())
	if err != nil {
		c.logFailure("Listing sources failed", err)
		c.JSONError(http.StatusInternalServerError, GenericErrorMessage)
		return
	}
	c.JSON(http.StatusOK, sources)
}

// ChatHistory GET /api/sources/chathistory
func (c *SourcesController) ChatHistory() {
	ids, err := c.sourceService.ChatHistories(c.Ctx.Request.Context())
	if err != nil {
		c.logFailure("Listing chat histories failed", err)
		c.JSONError(http.StatusInternalServerError, GenericErrorMessage)
		return
	}
	c.JSON(http.StatusOK, ids)
}
