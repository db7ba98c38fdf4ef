package controllers

import (
	"github.com/ziwayhub/backend-go/internal/services"
)

// Deps 控制器依赖的服务集合
// beego按请求反射创建控制器实例，注入的字段不会保留，
// 服务通过包级注册表在Prepare阶段绑定
type Deps struct {
	Chat      *services.ChatService
	Knowledge *services.KnowledgeService
	Ingest    *services.IngestService
	Worker    *services.EmbeddingWorker
}

var registry Deps

// Setup 注册控制器依赖，在路由初始化之前调用
func Setup(deps Deps) {
	registry = deps
}
