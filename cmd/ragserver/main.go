package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"github.com/ziwayhub/backend-go/app/bootstrap"
	"github.com/ziwayhub/backend-go/internal/logger"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Cleanup()

	web.BConfig.AppName = "Ziway RAG Service"
	web.BConfig.CopyRequestBody = true
	if port, err := strconv.Atoi(app.Config.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = port
	}

	logger.Info("🚀 Starting Ziway RAG Service", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
