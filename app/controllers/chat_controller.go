package controllers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/ziwayhub/backend-go/internal/errors"
	"github.com/ziwayhub/backend-go/internal/logger"
	"github.com/ziwayhub/backend-go/internal/services"
	"go.uber.org/zap"
)

// 对外的兜底回答，内部错误细节绝不出现在响应里
const apologyResponse = "抱歉，我现在遇到了一些技术问题，暂时无法回答你的问题，请稍后再试。"

// ChatController 问答控制器
type ChatController struct {
	BaseController
	chatService *services.ChatService
}

func (c *ChatController) Prepare() {
	if c.chatService == nil {
		c.chatService = registry.Chat
	}
}

// Chat POST /api/chat
func (c *ChatController) Chat() {
	var req services.ChatRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求格式错误")
		return
	}
	req.UserID = c.identifyUser()

	result, err := c.chatService.HandleMessage(c.Ctx.Request.Context(), &req)
	if err != nil {
		appErr := apperrors.GetAppError(err)
		logger.Error("处理聊天请求失败",
			zap.String("code", string(appErr.Code)),
			zap.Error(err))

		// 统一的道歉响应：错误码给客户端做展示分支，细节只进日志
		c.JSON(appErr.HTTPCode, map[string]interface{}{
			"error":    appErr.Message,
			"response": apologyResponse,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
