package knowledge

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/ziwayhub/backend-go/internal/errors"
	"github.com/ziwayhub/backend-go/internal/models"
	"go.uber.org/zap"
)

// FusionConfig 融合策略参数
// 阈值、先验分、加分、闸值都是策略旋钮，独立于融合算法结构
type FusionConfig struct {
	VectorThreshold float64       // 向量检索阈值，宽松取值偏召回，精度交给闸门
	VectorTopK      int           // 向量检索候选上限
	KeywordTopK     int           // 关键词检索候选上限
	KeywordPrior    float64       // 关键词命中的固定先验分，低于强向量匹配
	OverlapBoost    float64       // 两种检索同时命中时的加分，奖励独立信号的一致性
	ConfidenceGate  float64       // 高置信度闸值，融合分低于此不参与回答
	MaxForwarded    int           // 过闸后转发给生成的候选上限
	StructuredLimit int           // 结构化记录上限
	CallTimeout     time.Duration // 单次外部调用超时
}

// DefaultFusionConfig 返回默认融合参数
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		VectorThreshold: 0.5,
		VectorTopK:      10,
		KeywordTopK:     10,
		KeywordPrior:    0.7,
		OverlapBoost:    0.1,
		ConfidenceGate:  0.6,
		MaxForwarded:    1,
		StructuredLimit: 5,
		CallTimeout:     10 * time.Second,
	}
}

// RetrievalRequest 单次检索请求
// Category/Importance 取值"all"等同于不过滤
type RetrievalRequest struct {
	Query      string
	Category   string
	Importance string
}

// RetrievalResult 融合后的检索结果
type RetrievalResult struct {
	Candidates []RetrievalCandidate     // 过闸的候选，按融合分降序
	Structured []models.StructuredRecord // 结构化辅助上下文，不打分不过闸
	Insight    QueryInsight
}

// RetrievalEngine 多策略检索融合引擎
// 流程：查询向量化 → 并发执行{向量检索, 查询理解→关键词检索, 结构化查询}
// → 按单元身份融合打分 → 排序 → 置信度闸门
type RetrievalEngine struct {
	store    Store
	embedder Embedder
	analyzer *QueryAnalyzer
	cfg      FusionConfig
	logger   *zap.Logger
}

func NewRetrievalEngine(store Store, embedder Embedder, analyzer *QueryAnalyzer, cfg FusionConfig, logger *zap.Logger) *RetrievalEngine {
	if cfg.VectorTopK <= 0 {
		cfg.VectorTopK = 10
	}
	if cfg.KeywordTopK <= 0 {
		cfg.KeywordTopK = 10
	}
	if cfg.MaxForwarded <= 0 {
		cfg.MaxForwarded = 1
	}
	if cfg.StructuredLimit <= 0 {
		cfg.StructuredLimit = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &RetrievalEngine{
		store:    store,
		embedder: embedder,
		analyzer: analyzer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Config 返回当前融合参数
func (e *RetrievalEngine) Config() FusionConfig {
	return e.cfg
}

// NormalizeFilter 把"all"归一化为不过滤
func NormalizeFilter(value string) string {
	if value == "all" {
		return ""
	}
	return value
}

// Retrieve 执行多策略检索与融合
// 向量检索失败对请求致命；关键词和结构化检索失败只降级为空结果
func (e *RetrievalEngine) Retrieve(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error) {
	category := NormalizeFilter(req.Category)
	importance := NormalizeFilter(req.Importance)

	// 1. 生成查询向量
	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	queryEmbedding, err := e.embedder.Embed(embedCtx, req.Query)
	cancel()
	if err != nil {
		return nil, apperrors.NewEmbeddingUnavailableError(err)
	}

	// 2. 并发执行三路检索
	// 向量检索独立；关键词和结构化检索都依赖查询理解的输出，
	// 理解完成后两者再并行执行
	var (
		wg             sync.WaitGroup
		vectorResults  []RetrievalCandidate
		vectorErr      error
		keywordResults []RetrievalCandidate
		structured     []models.StructuredRecord
		insight        QueryInsight
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		vectorResults, vectorErr = e.store.VectorSearch(callCtx, VectorSearchRequest{
			QueryEmbedding: queryEmbedding,
			Threshold:      e.cfg.VectorThreshold,
			TopK:           e.cfg.VectorTopK,
			Category:       category,
			Importance:     importance,
		})
	}()
	go func() {
		defer wg.Done()
		analyzeCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		insight = e.analyzer.Analyze(analyzeCtx, req.Query)
		cancel()

		var inner sync.WaitGroup
		inner.Add(2)
		go func() {
			defer inner.Done()
			if len(insight.Keywords) == 0 {
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
			defer cancel()
			results, err := e.store.KeywordSearch(callCtx, insight.Keywords, e.cfg.KeywordTopK)
			if err != nil {
				// 关键词检索失败非致命，记录后按空结果处理
				e.warn("关键词搜索失败", zap.Error(err))
				return
			}
			keywordResults = results
		}()
		go func() {
			defer inner.Done()
			if len(insight.Categories) == 0 {
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
			defer cancel()
			records, err := e.store.StructuredLookup(callCtx, insight.Categories, e.cfg.StructuredLimit)
			if err != nil {
				// 结构化检索失败非致命
				e.warn("结构化数据搜索失败", zap.Error(err))
				return
			}
			structured = records
		}()
		inner.Wait()
	}()
	wg.Wait()

	if vectorErr != nil {
		return nil, apperrors.NewRetrievalFailedError(vectorErr)
	}

	// 3. 融合与去重
	fused := e.fuse(vectorResults, keywordResults)

	// 4. 排序
	sortCandidatesByScore(fused)

	// 5. 置信度闸门：只保留高置信度候选，再截取TopN
	gated := make([]RetrievalCandidate, 0, len(fused))
	for _, candidate := range fused {
		if candidate.Score > e.cfg.ConfidenceGate {
			gated = append(gated, candidate)
		}
	}
	if len(gated) > e.cfg.MaxForwarded {
		gated = gated[:e.cfg.MaxForwarded]
	}

	return &RetrievalResult{
		Candidates: gated,
		Structured: structured,
		Insight:    insight,
	}, nil
}

// fuse 按单元身份合并两路候选
// 向量结果先入座，分数为相似度；关键词结果若未出现则以固定先验分插入，
// 若已出现则取max(相似度, 先验分)再加一致性加分——重叠提升而非替换分数
func (e *RetrievalEngine) fuse(vectorResults, keywordResults []RetrievalCandidate) []RetrievalCandidate {
	combined := make(map[uint]*RetrievalCandidate, len(vectorResults)+len(keywordResults))
	order := make([]uint, 0, len(vectorResults)+len(keywordResults))

	for _, item := range vectorResults {
		candidate := item
		combined[candidate.UnitID] = &candidate
		order = append(order, candidate.UnitID)
	}

	for _, item := range keywordResults {
		if existing, ok := combined[item.UnitID]; ok {
			if e.cfg.KeywordPrior > existing.Score {
				existing.Score = e.cfg.KeywordPrior
			}
			existing.Score += e.cfg.OverlapBoost
			if existing.Score > 1.0 {
				existing.Score = 1.0
			}
			existing.Provenance = append(existing.Provenance, ProvenanceKeyword)
			continue
		}
		candidate := item
		candidate.Score = e.cfg.KeywordPrior
		combined[candidate.UnitID] = &candidate
		order = append(order, candidate.UnitID)
	}

	results := make([]RetrievalCandidate, 0, len(combined))
	for _, id := range order {
		results = append(results, *combined[id])
	}
	return results
}

func (e *RetrievalEngine) warn(msg string, fields ...zap.Field) {
	if e.logger != nil {
		e.logger.Warn(msg, fields...)
	}
}
