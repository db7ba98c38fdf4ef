package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ziwayhub/backend-go/internal/logger"
	"github.com/ziwayhub/backend-go/internal/services"
	"go.uber.org/zap"
)

// KnowledgeController 知识单元管理控制器
type KnowledgeController struct {
	BaseController
	knowledgeService *services.KnowledgeService
	ingestService    *services.IngestService
	worker           *services.EmbeddingWorker
}

func (c *KnowledgeController) Prepare() {
	if c.knowledgeService == nil {
		c.knowledgeService = registry.Knowledge
	}
	if c.ingestService == nil {
		c.ingestService = registry.Ingest
	}
	if c.worker == nil {
		c.worker = registry.Worker
	}
}

// List GET /api/knowledge
func (c *KnowledgeController) List() {
	page, _ := c.GetInt("page", 1)
	pageSize, _ := c.GetInt("page_size", 20)
	category := c.GetString("category")

	result, err := c.knowledgeService.List(c.Ctx.Request.Context(), page, pageSize, category)
	if err != nil {
		logger.Error("获取知识单元列表失败", zap.Error(err))
		c.JSONError(http.StatusInternalServerError, "获取知识单元列表失败")
		return
	}
	c.JSONSuccess(result)
}

// Get GET /api/knowledge/:id
func (c *KnowledgeController) Get() {
	unitID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	unit, err := c.knowledgeService.Get(c.Ctx.Request.Context(), uint(unitID))
	if err != nil {
		if errors.Is(err, services.ErrUnitNotFound) {
			c.JSONError(http.StatusNotFound, "知识单元不存在")
			return
		}
		c.JSONError(http.StatusInternalServerError, "获取知识单元失败")
		return
	}
	c.JSONSuccess(unit)
}

// Create POST /api/knowledge
func (c *KnowledgeController) Create() {
	var req services.CreateUnitRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求格式错误")
		return
	}

	unit, err := c.knowledgeService.Create(c.Ctx.Request.Context(), &req)
	if err != nil {
		logger.Error("创建知识单元失败", zap.Error(err))
		c.JSONError(http.StatusBadRequest, "创建知识单元失败")
		return
	}
	c.JSONSuccess(unit)
}

// Update PUT /api/knowledge/:id
func (c *KnowledgeController) Update() {
	unitID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	var req services.UpdateUnitRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求格式错误")
		return
	}

	unit, err := c.knowledgeService.Update(c.Ctx.Request.Context(), uint(unitID), &req)
	if err != nil {
		if errors.Is(err, services.ErrUnitNotFound) {
			c.JSONError(http.StatusNotFound, "知识单元不存在")
			return
		}
		logger.Error("更新知识单元失败", zap.Uint64("unit_id", unitID), zap.Error(err))
		c.JSONError(http.StatusBadRequest, "更新知识单元失败")
		return
	}
	c.JSONSuccess(unit)
}

// Delete DELETE /api/knowledge/:id
func (c *KnowledgeController) Delete() {
	unitID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	if err := c.knowledgeService.Delete(c.Ctx.Request.Context(), uint(unitID)); err != nil {
		if errors.Is(err, services.ErrUnitNotFound) {
			c.JSONError(http.StatusNotFound, "知识单元不存在")
			return
		}
		logger.Error("删除知识单元失败", zap.Uint64("unit_id", unitID), zap.Error(err))
		c.JSONError(http.StatusInternalServerError, "删除知识单元失败")
		return
	}
	c.JSONSuccess(map[string]interface{}{"deleted": unitID})
}

// UploadCSV POST /api/knowledge/upload-csv
func (c *KnowledgeController) UploadCSV() {
	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONError(http.StatusBadRequest, "缺少上传文件")
		return
	}
	defer file.Close()

	logger.Info("开始CSV摄入", zap.String("filename", header.Filename), zap.Int64("size", header.Size))

	report, err := c.ingestService.IngestCSV(c.Ctx.Request.Context(), file)
	if err != nil {
		logger.Error("CSV摄入失败", zap.String("filename", header.Filename), zap.Error(err))
		c.JSONError(http.StatusBadRequest, err.Error())
		return
	}
	c.JSONSuccess(report)
}

// Reindex POST /api/knowledge/reindex
func (c *KnowledgeController) Reindex() {
	onlyMissing, _ := c.GetBool("only_missing", false)

	report, err := c.worker.ReindexAll(c.Ctx.Request.Context(), onlyMissing)
	if err != nil {
		logger.Error("向量重建失败", zap.Error(err))
		c.JSONError(http.StatusInternalServerError, "向量重建失败")
		return
	}
	c.JSONSuccess(report)
}
