package controllers

import (
	"net/http"

	"github.com/ziwayhub/backend-go/internal/database"
)

// RootController 根路径
type RootController struct {
	BaseController
}

func (c *RootController) Index() {
	c.JSON(http.StatusOK, map[string]interface{}{
		"service": "ziway-rag",
		"status":  "running",
	})
}

// HealthController 健康检查
type HealthController struct {
	BaseController
}

func (c *HealthController) Health() {
	dbStatus := "ok"
	if database.DB == nil {
		dbStatus = "unavailable"
	} else if sqlDB, err := database.DB.DB(); err != nil || sqlDB.Ping() != nil {
		dbStatus = "unavailable"
	}

	status := http.StatusOK
	if dbStatus != "ok" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, map[string]interface{}{
		"status":   "ok",
		"database": dbStatus,
	})
}
