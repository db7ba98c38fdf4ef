package router

import (
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ziwayhub/backend-go/app/controllers"
	"github.com/ziwayhub/backend-go/internal/config"
)

// Init registers all routes. Must be called after controllers.Setup.
func Init() {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")

	// 问答路由
	chatController := &controllers.ChatController{}
	web.Router("/api/chat", chatController, "post:Chat")

	// 知识库路由
	// 注意：具体路由必须在参数路由之前，否则upload-csv会被:id匹配
	knowledgeController := &controllers.KnowledgeController{}
	web.Router("/api/knowledge", knowledgeController, "get:List;post:Create")
	web.Router("/api/knowledge/upload-csv", knowledgeController, "post:UploadCSV")
	web.Router("/api/knowledge/reindex", knowledgeController, "post:Reindex")
	web.Router("/api/knowledge/:id", knowledgeController, "get:Get;put:Update;delete:Delete")

	if config.AppConfig != nil && config.AppConfig.Metrics.Enabled {
		web.Handler("/metrics", promhttp.Handler())
	}
}
