package controllers

import (
	"net/http"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"github.com/ziwayhub/backend-go/internal/auth"
	"github.com/ziwayhub/backend-go/internal/config"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
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

// identifyUser 识别调用方身份，身份是可选的
// 匿名请求正常处理，只是不持久化对话
func (c *BaseController) identifyUser() *uint {
	// 1. Authorization头里的JWT
	token := auth.ExtractBearer(c.Ctx.Input.Header("Authorization"))
	if token != "" && config.AppConfig != nil {
		if userID, err := auth.ParseToken(token, config.AppConfig.JWT.Secret); err == nil {
			return &userID
		}
	}

	// 2. 网关注入的X-User-Id头
	if header := c.Ctx.Input.Header("X-User-Id"); header != "" {
		if parsed, err := strconv.ParseUint(header, 10, 32); err == nil {
			userID := uint(parsed)
			return &userID
		}
	}

	return nil
}

// mustParseUintParam 解析URL参数为uint
func (c *BaseController) mustParseUintParam(key string) (uint64, bool) {
	value := c.GetString(key)
	if value == "" {
		c.JSONError(http.StatusBadRequest, "缺少必要参数")
		return 0, false
	}

	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "参数格式错误")
		return 0, false
	}

	return id, true
}
