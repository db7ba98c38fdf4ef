package knowledge

import (
	"context"

	"github.com/ziwayhub/backend-go/internal/models"
)

// 候选来源标识
const (
	ProvenanceVector  = "vector"
	ProvenanceKeyword = "keyword"
)

// RetrievalCandidate 单次查询的临时检索候选
// 向量检索的Score是余弦相似度；关键词检索不提供分级相关性，
// 由融合引擎赋固定先验分
type RetrievalCandidate struct {
	UnitID     uint                   `json:"unit_id"`
	Content    string                 `json:"content"`
	Category   string                 `json:"category"`
	Importance string                 `json:"importance"`
	Score      float64                `json:"score"`
	Provenance []string               `json:"provenance"`
	Entities   map[string]interface{} `json:"entities,omitempty"`
}

// FoundBy 判断候选是否来自指定检索策略
func (c *RetrievalCandidate) FoundBy(source string) bool {
	for _, p := range c.Provenance {
		if p == source {
			return true
		}
	}
	return false
}

// VectorSearchRequest 向量检索请求
// Category/Importance 为空表示不过滤（调用方负责把"all"归一化为空）
type VectorSearchRequest struct {
	QueryEmbedding []float32
	Threshold      float64 // 仅返回相似度 >= Threshold 的结果
	TopK           int
	Category       string
	Importance     string
}

// Store 知识库读取抽象，三个操作对引擎都是无副作用的
type Store interface {
	// VectorSearch 按相似度降序返回至多TopK个候选
	VectorSearch(ctx context.Context, req VectorSearchRequest) ([]RetrievalCandidate, error)
	// KeywordSearch OR语义匹配keywords/labels列，无序返回至多topK个候选
	KeywordSearch(ctx context.Context, terms []string, topK int) ([]RetrievalCandidate, error)
	// StructuredLookup 按类别返回少量结构化记录，仅作生成上下文
	StructuredLookup(ctx context.Context, categories []string, limit int) ([]models.StructuredRecord, error)
}
