package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/ziwayhub/backend-go/internal/knowledge"
	"github.com/ziwayhub/backend-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUnitNotFound = errors.New("knowledge unit not found")

// CreateUnitRequest 手工创建知识单元
type CreateUnitRequest struct {
	Content    string   `json:"content" validate:"required"`
	Category   string   `json:"category"`
	Importance string   `json:"importance"`
	Labels     []string `json:"labels"`
	Keywords   []string `json:"keywords"`
}

// UpdateUnitRequest 编辑知识单元，nil字段表示不修改
type UpdateUnitRequest struct {
	Content    *string   `json:"content"`
	Category   *string   `json:"category"`
	Importance *string   `json:"importance"`
	Labels     *[]string `json:"labels"`
	Keywords   *[]string `json:"keywords"`
}

// UnitListResult 分页列表结果
type UnitListResult struct {
	Units    []models.KnowledgeUnit `json:"units"`
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

// KnowledgeService 知识单元的增删改查
// 内容编辑会使已有向量失效：单元回到pending状态并重新排队生成
type KnowledgeService struct {
	db       *gorm.DB
	worker   *EmbeddingWorker
	sink     knowledge.VectorSink
	indexer  UnitIndexer
	ingest   *IngestService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewKnowledgeService(db *gorm.DB, worker *EmbeddingWorker, sink knowledge.VectorSink, indexer UnitIndexer, ingest *IngestService, logger *zap.Logger) *KnowledgeService {
	return &KnowledgeService{
		db:       db,
		worker:   worker,
		sink:     sink,
		indexer:  indexer,
		ingest:   ingest,
		validate: validator.New(),
		logger:   logger,
	}
}

// List 分页查询知识单元，可按类别过滤
func (s *KnowledgeService) List(ctx context.Context, page, pageSize int, category string) (*UnitListResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.KnowledgeUnit{})
	category = knowledge.NormalizeFilter(strings.TrimSpace(category))
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var units []models.KnowledgeUnit
	if err := query.Order("unit_id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&units).Error; err != nil {
		return nil, err
	}

	return &UnitListResult{
		Units:    units,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// Get 查询单个知识单元
func (s *KnowledgeService) Get(ctx context.Context, unitID uint) (*models.KnowledgeUnit, error) {
	var unit models.KnowledgeUnit
	if err := s.db.WithContext(ctx).First(&unit, unitID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnitNotFound
		}
		return nil, err
	}
	return &unit, nil
}

// Create 手工创建知识单元，入库后排队生成向量
func (s *KnowledgeService) Create(ctx context.Context, req *CreateUnitRequest) (*models.KnowledgeUnit, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("参数校验失败: %w", err)
	}

	err := s.ingest.IngestRow(ctx, IngestRow{
		Content:    req.Content,
		Category:   req.Category,
		Importance: req.Importance,
		Labels:     req.Labels,
		Keywords:   req.Keywords,
	})
	if err != nil {
		return nil, err
	}

	// IngestRow不返回实体，按内容取回刚插入的单元
	var unit models.KnowledgeUnit
	if err := s.db.WithContext(ctx).
		Where("content = ?", strings.TrimSpace(req.Content)).
		Order("unit_id DESC").
		First(&unit).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}

// Update 编辑知识单元
// 内容变化会使向量失效，单元回到pending并重新生成
func (s *KnowledgeService) Update(ctx context.Context, unitID uint, req *UpdateUnitRequest) (*models.KnowledgeUnit, error) {
	unit, err := s.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	invalidated := false

	if req.Content != nil {
		content := strings.TrimSpace(*req.Content)
		if content == "" {
			return nil, fmt.Errorf("内容不能为空")
		}
		if content != unit.Content {
			updates["content"] = content
			invalidated = true
		}
	}
	if req.Category != nil {
		updates["category"] = s.ingest.normalizeCategory(*req.Category)
	}
	if req.Importance != nil {
		updates["importance"] = normalizeImportance(*req.Importance)
	}
	if req.Labels != nil {
		updates["labels"] = pq.StringArray(cleanTerms(*req.Labels))
	}
	if req.Keywords != nil {
		updates["keywords"] = pq.StringArray(cleanTerms(*req.Keywords))
	}

	if invalidated {
		updates["embedding"] = ""
		updates["embedding_status"] = models.EmbeddingStatusPending
		updates["embedding_error"] = ""
	}

	if len(updates) == 0 {
		return unit, nil
	}
	if err := s.db.WithContext(ctx).Model(unit).Updates(updates).Error; err != nil {
		return nil, err
	}

	refreshed, err := s.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}

	if invalidated {
		s.worker.Enqueue(unitID)
	} else if s.indexer != nil {
		// 元数据变化时只刷新关键词索引
		if err := s.indexer.IndexUnit(ctx, refreshed); err != nil {
			s.logger.Warn("同步关键词索引失败", zap.Uint("unit_id", unitID), zap.Error(err))
		}
	}
	return refreshed, nil
}

// Delete 删除知识单元并清理外部索引
func (s *KnowledgeService) Delete(ctx context.Context, unitID uint) error {
	unit, err := s.Get(ctx, unitID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(unit).Error; err != nil {
		return err
	}

	if s.sink != nil {
		if err := s.sink.DeleteUnitVector(ctx, unitID); err != nil {
			s.logger.Warn("清理向量库失败", zap.Uint("unit_id", unitID), zap.Error(err))
		}
	}
	if s.indexer != nil {
		if err := s.indexer.RemoveUnit(ctx, unitID); err != nil {
			s.logger.Warn("清理关键词索引失败", zap.Uint("unit_id", unitID), zap.Error(err))
		}
	}
	return nil
}
