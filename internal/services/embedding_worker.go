package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ziwayhub/backend-go/internal/knowledge"
	"github.com/ziwayhub/backend-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReindexReport 批量向量重建结果
type ReindexReport struct {
	Total        int      `json:"total"`
	SuccessCount int      `json:"success_count"`
	ErrorCount   int      `json:"error_count"`
	Errors       []string `json:"errors,omitempty"`
}

// 错误明细只保留前若干条，避免大批量失败时响应膨胀
const maxReportedErrors = 10

// UnitIndexer 关键词索引写入端，供摄入路径同步外部索引
type UnitIndexer interface {
	IndexUnit(ctx context.Context, unit *models.KnowledgeUnit) error
	RemoveUnit(ctx context.Context, unitID uint) error
}

// EmbeddingWorker 异步向量生成
// 知识单元创建后处于pending状态，由worker生成向量后转为ready；
// 失败的单元转为failed并保留错误信息，等待重建
type EmbeddingWorker struct {
	db       *gorm.DB
	embedder knowledge.Embedder
	sink     knowledge.VectorSink
	indexer  UnitIndexer
	parallel int
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[uint]struct{}
}

func NewEmbeddingWorker(db *gorm.DB, embedder knowledge.Embedder, sink knowledge.VectorSink, indexer UnitIndexer, parallel int, logger *zap.Logger) *EmbeddingWorker {
	if parallel <= 0 {
		parallel = 4
	}
	return &EmbeddingWorker{
		db:       db,
		embedder: embedder,
		sink:     sink,
		indexer:  indexer,
		parallel: parallel,
		logger:   logger,
		pending:  make(map[uint]struct{}),
	}
}

// Enqueue 异步生成一个单元的向量，同一单元的重复入队会被合并
func (w *EmbeddingWorker) Enqueue(unitID uint) {
	if w == nil {
		return
	}
	w.mu.Lock()
	if _, ok := w.pending[unitID]; ok {
		w.mu.Unlock()
		return
	}
	w.pending[unitID] = struct{}{}
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			delete(w.pending, unitID)
			w.mu.Unlock()
		}()

		var unit models.KnowledgeUnit
		if err := w.db.First(&unit, unitID).Error; err != nil {
			w.logger.Warn("加载知识单元失败", zap.Uint("unit_id", unitID), zap.Error(err))
			return
		}
		if err := w.ProcessUnit(context.Background(), &unit); err != nil {
			w.logger.Warn("生成向量失败", zap.Uint("unit_id", unitID), zap.Error(err))
		}
	}()
}

// ProcessUnit 为单个知识单元生成向量并更新状态
func (w *EmbeddingWorker) ProcessUnit(ctx context.Context, unit *models.KnowledgeUnit) error {
	embedding, err := w.embedder.Embed(ctx, unit.Content)
	if err != nil {
		w.markFailed(ctx, unit, err)
		return err
	}

	encoded, err := json.Marshal(embedding)
	if err != nil {
		w.markFailed(ctx, unit, err)
		return err
	}

	updates := map[string]interface{}{
		"embedding":        string(encoded),
		"embedding_status": models.EmbeddingStatusReady,
		"embedding_error":  "",
	}
	if err := w.db.WithContext(ctx).Model(unit).Updates(updates).Error; err != nil {
		return err
	}
	unit.Embedding = string(encoded)
	unit.EmbeddingStatus = models.EmbeddingStatusReady
	unit.EmbeddingError = ""

	// 外部向量库和关键词索引是可选的，同步失败不回滚数据库状态
	if w.sink != nil {
		if err := w.sink.UpsertUnitVector(ctx, unit, embedding); err != nil {
			w.logger.Warn("同步向量库失败", zap.Uint("unit_id", unit.ID), zap.Error(err))
		}
	}
	if w.indexer != nil {
		if err := w.indexer.IndexUnit(ctx, unit); err != nil {
			w.logger.Warn("同步关键词索引失败", zap.Uint("unit_id", unit.ID), zap.Error(err))
		}
	}
	return nil
}

func (w *EmbeddingWorker) markFailed(ctx context.Context, unit *models.KnowledgeUnit, cause error) {
	updates := map[string]interface{}{
		"embedding_status": models.EmbeddingStatusFailed,
		"embedding_error":  cause.Error(),
	}
	if err := w.db.WithContext(ctx).Model(unit).Updates(updates).Error; err != nil {
		w.logger.Error("更新向量状态失败", zap.Uint("unit_id", unit.ID), zap.Error(err))
	}
}

// ReindexAll 重新生成所有知识单元的向量
// onlyMissing为true时只处理pending/failed的单元
func (w *EmbeddingWorker) ReindexAll(ctx context.Context, onlyMissing bool) (*ReindexReport, error) {
	query := w.db.WithContext(ctx).Model(&models.KnowledgeUnit{})
	if onlyMissing {
		query = query.Where("embedding_status <> ?", models.EmbeddingStatusReady)
	}

	var units []models.KnowledgeUnit
	if err := query.Find(&units).Error; err != nil {
		return nil, err
	}

	report := &ReindexReport{Total: len(units)}
	if len(units) == 0 {
		return report, nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, w.parallel)
	)
	for i := range units {
		unit := &units[i]
		wg.Add(1)
		semaphore <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()

			err := w.ProcessUnit(ctx, unit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.ErrorCount++
				if len(report.Errors) < maxReportedErrors {
					report.Errors = append(report.Errors, fmt.Sprintf("unit %d: %v", unit.ID, err))
				}
				return
			}
			report.SuccessCount++
		}()
	}
	wg.Wait()

	w.logger.Info("向量重建完成",
		zap.Int("total", report.Total),
		zap.Int("success", report.SuccessCount),
		zap.Int("errors", report.ErrorCount))
	return report, nil
}
