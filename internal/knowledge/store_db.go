package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/lib/pq"
	"github.com/ziwayhub/backend-go/internal/models"
	"gorm.io/gorm"
)

// DatabaseStore 基于PostgreSQL的知识库存储
// 向量相似度在应用内计算，语料规模为几千行，全量扫描可接受
type DatabaseStore struct {
	db *gorm.DB
}

func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

type unitEmbeddingRecord struct {
	UnitID        uint
	Content       string
	Category      string
	Importance    string
	EmbeddingJSON string `gorm:"column:embedding"`
	EntitiesJSON  string `gorm:"column:entities"`
}

func (s *DatabaseStore) VectorSearch(ctx context.Context, req VectorSearchRequest) ([]RetrievalCandidate, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	// 向量未生成的单元对向量检索不可见
	query := s.db.WithContext(ctx).
		Table("knowledge_units").
		Select("unit_id, content, category, importance, embedding, entities").
		Where("embedding_status = ?", models.EmbeddingStatusReady).
		Where("embedding IS NOT NULL AND embedding <> ''")
	if req.Category != "" {
		query = query.Where("category = ?", req.Category)
	}
	if req.Importance != "" {
		query = query.Where("importance = ?", req.Importance)
	}

	var rows []unitEmbeddingRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	queryNorm := vectorNorm(req.QueryEmbedding)
	if queryNorm == 0 {
		return nil, fmt.Errorf("query embedding norm is zero")
	}

	results := make([]RetrievalCandidate, 0, req.TopK)
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.EmbeddingJSON), &embedding); err != nil {
			continue
		}
		score := cosineSimilarity(req.QueryEmbedding, embedding, queryNorm)
		if score < req.Threshold {
			continue
		}
		results = append(results, RetrievalCandidate{
			UnitID:     row.UnitID,
			Content:    row.Content,
			Category:   row.Category,
			Importance: row.Importance,
			Score:      score,
			Provenance: []string{ProvenanceVector},
			Entities:   decodeEntities(row.EntitiesJSON),
		})
	}

	sortCandidatesByScore(results)
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}
	return results, nil
}

func (s *DatabaseStore) KeywordSearch(ctx context.Context, terms []string, topK int) ([]RetrievalCandidate, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	var rows []unitEmbeddingRecord
	err := s.db.WithContext(ctx).
		Table("knowledge_units").
		Select("unit_id, content, category, importance, entities").
		Where("keywords && ? OR labels && ?", pq.Array(terms), pq.Array(terms)).
		Limit(topK).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	results := make([]RetrievalCandidate, 0, len(rows))
	for _, row := range rows {
		results = append(results, RetrievalCandidate{
			UnitID:     row.UnitID,
			Content:    row.Content,
			Category:   row.Category,
			Importance: row.Importance,
			Provenance: []string{ProvenanceKeyword},
			Entities:   decodeEntities(row.EntitiesJSON),
		})
	}
	return results, nil
}

func (s *DatabaseStore) StructuredLookup(ctx context.Context, categories []string, limit int) ([]models.StructuredRecord, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var records []models.StructuredRecord
	err := s.db.WithContext(ctx).
		Where("category IN ?", categories).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("structured lookup failed: %w", err)
	}
	return records, nil
}

func (s *DatabaseStore) Ready() bool {
	return s.db != nil
}

func decodeEntities(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var entities map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &entities); err != nil {
		return nil
	}
	return entities
}

func sortCandidatesByScore(candidates []RetrievalCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].UnitID < candidates[j].UnitID
		}
		return candidates[i].Score > candidates[j].Score
	})
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, normA float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		// 尝试对齐长度
		minLen := len(a)
		if len(b) < minLen {
			minLen = len(b)
		}
		a = a[:minLen]
		b = b[:minLen]
	}

	var dot float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (normA * math.Sqrt(normB))
}
