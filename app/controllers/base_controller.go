package controllers

import (
	"net/http"

	"github.com/aihub/genai-rag/internal/di"
	apperrors "github.com/aihub/genai-rag/internal/errors"
	"github.com/aihub/genai-rag/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

// GenericErrorMessage 内部错误时返回给客户端的统一文案
const GenericErrorMessage = "Something went wrong"

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	_ = c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// Text writes a plain text response.
func (c *BaseController) Text(status int, message string) {
	c.Ctx.Output.Header("Content-Type", "text/plain; charset=utf-8")
	c.Ctx.Output.SetStatus(status)
	_ = c.Ctx.Output.Body([]byte(message))
}

// inject 从DI容器解析依赖，失败时直接返回500并终止请求
func (c *BaseController) inject(function interface{}) {
	container := di.GetContainer()
	if container == nil {
		logger.Error("DI container not initialized", zap.String("path", c.Ctx.Input.URL()))
		c.JSONError(http.StatusInternalServerError, GenericErrorMessage)
		c.StopRun()
	}
	if err := container.Invoke(function); err != nil {
		logger.Error("Failed to resolve dependencies", zap.String("path", c.Ctx.Input.URL()), zap.Error(err))
		c.JSONError(http.StatusInternalServerError, GenericErrorMessage)
		c.StopRun()
	}
}

// validationMessage 校验错误返回 (消息, true)
func validationMessage(err error) (string, bool) {
	if apperrors.HasCode(err, apperrors.ErrCodeValidationFailed) {
		return apperrors.GetAppError(err).Message, true
	}
	return "", false
}

// logFailure 服务端记录完整错误，客户端只拿到通用响应
func (c *BaseController) logFailure(msg string, err error) {
	appErr := apperrors.GetAppError(err)
	logger.Error(msg,
		zap.String("path", c.Ctx.Input.URL()),
		zap.String("code", string(appErr.Code)),
		zap.Error(err))
}
