package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/aihub/genai-rag/internal/services"
)

// ChatHistoryHeader 携带对话ID的响应头
const ChatHistoryHeader = "X-Chat-History-Id"

// QueryController 问答接口
type QueryController struct {
	BaseController
	queryService *services.QueryService
}

func (c *QueryController) Prepare() {
	c.inject(func(qs *services.QueryService) {
		c.queryService = qs
	})
}

// Prompt POST /api/query/prompt
func (c *QueryController) Prompt() {
	var req services.QueryRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.Text(http.StatusBadRequest, services.MissingQueryMessage)
		return
	}

	answer, err := c.queryService.Prompt(c.Ctx.Request.Context(), req)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			c.Text(http.StatusBadRequest, msg)
			return
		}
		c.logFailure("Query failed", err)
		c.JSONError(http.StatusInternalServerError, GenericErrorMessage)
		return
	}

	c.JSONSuccess(answer)
}

// PromptWithHistory POST /api/query/prompt-with-history
func (c *QueryController) PromptWithHistory() {
	var req services.HistoryQueryRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.Text(http.StatusBadRequest, services.MissingQueryMessage)
		return
	}

	result, err := c.queryService.PromptWithHistory(c.Ctx.Request.Context(), req)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			c.Text(http.StatusBadRequest, msg)
			return
		}
		c.logFailure("Query with history failed", err)
		c.JSONError(http.StatusInternalServerError, GenericErrorMessage)
		return
	}

	c.Ctx.Output.Header(ChatHistoryHeader, result.ConversationID)
	c.JSONSuccess(result.Answer)
}
