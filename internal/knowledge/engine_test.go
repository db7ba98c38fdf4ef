package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/ziwayhub/backend-go/internal/errors"
	"github.com/ziwayhub/backend-go/internal/models"
)

type mockEmbedder struct {
	embedding []float32
	err       error
	calls     int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.embedding, nil
}

func (m *mockEmbedder) Dimensions() int { return len(m.embedding) }
func (m *mockEmbedder) Ready() bool     { return m.err == nil }

type mockStore struct {
	vectorResults  []RetrievalCandidate
	vectorErr      error
	keywordResults []RetrievalCandidate
	keywordErr     error
	structured     []models.StructuredRecord
	structuredErr  error

	lastVectorReq VectorSearchRequest
	keywordTerms  []string
}

func (m *mockStore) VectorSearch(ctx context.Context, req VectorSearchRequest) ([]RetrievalCandidate, error) {
	m.lastVectorReq = req
	return m.vectorResults, m.vectorErr
}

func (m *mockStore) KeywordSearch(ctx context.Context, terms []string, topK int) ([]RetrievalCandidate, error) {
	m.keywordTerms = terms
	return m.keywordResults, m.keywordErr
}

func (m *mockStore) StructuredLookup(ctx context.Context, categories []string, limit int) ([]models.StructuredRecord, error) {
	return m.structured, m.structuredErr
}

func newTestEngine(store Store, embedder Embedder, cfg FusionConfig) *RetrievalEngine {
	// 无辅助模型时分析器退化为空白切分，测试里正好提供确定性关键词
	analyzer := NewQueryAnalyzer(nil, "", nil)
	return NewRetrievalEngine(store, embedder, analyzer, cfg, nil)
}

func TestRetrieveEmbeddingFailureIsFatal(t *testing.T) {
	store := &mockStore{}
	embedder := &mockEmbedder{err: errors.New("api down")}
	engine := newTestEngine(store, embedder, DefaultFusionConfig())

	_, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "巴黎 地铁"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmbeddingUnavailable))
}

func TestRetrieveVectorFailureIsFatal(t *testing.T) {
	store := &mockStore{vectorErr: errors.New("db down")}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}
	engine := newTestEngine(store, embedder, DefaultFusionConfig())

	_, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "巴黎 地铁"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRetrievalFailed))
}

func TestRetrieveKeywordFailureDegrades(t *testing.T) {
	store := &mockStore{
		vectorResults: []RetrievalCandidate{
			{UnitID: 1, Content: "地铁末班车时间", Score: 0.8, Provenance: []string{ProvenanceVector}},
		},
		keywordErr: errors.New("index down"),
	}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}
	engine := newTestEngine(store, embedder, DefaultFusionConfig())

	result, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "地铁 末班车"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, uint(1), result.Candidates[0].UnitID)
	assert.InDelta(t, 0.8, result.Candidates[0].Score, 1e-9)
}

func TestRetrieveOverlapBoost(t *testing.T) {
	// 弱向量命中(0.55)本身过不了闸，叠加关键词信号后应为max(0.55, 0.7)+0.1=0.8
	store := &mockStore{
		vectorResults: []RetrievalCandidate{
			{UnitID: 7, Content: "夜间安全提示", Score: 0.55, Provenance: []string{ProvenanceVector}},
		},
		keywordResults: []RetrievalCandidate{
			{UnitID: 7, Content: "夜间安全提示", Provenance: []string{ProvenanceKeyword}},
		},
	}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}
	engine := newTestEngine(store, embedder, DefaultFusionConfig())

	result, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "夜间 安全"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	candidate := result.Candidates[0]
	assert.InDelta(t, 0.8, candidate.Score, 1e-9)
	assert.True(t, candidate.FoundBy(ProvenanceVector))
	assert.True(t, candidate.FoundBy(ProvenanceKeyword))
}

func TestRetrieveOverlapBoostCappedAtOne(t *testing.T) {
	store := &mockStore{
		vectorResults: []RetrievalCandidate{
			{UnitID: 3, Score: 0.95, Provenance: []string{ProvenanceVector}},
		},
		keywordResults: []RetrievalCandidate{
			{UnitID: 3, Provenance: []string{ProvenanceKeyword}},
		},
	}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}
	engine := newTestEngine(store, embedder, DefaultFusionConfig())

	result, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "签证 材料"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.InDelta(t, 1.0, result.Candidates[0].Score, 1e-9)
}

func TestRetrieveKeywordOnlyGetsPrior(t *testing.T) {
	store := &mockStore{
		keywordResults: []RetrievalCandidate{
			{UnitID: 9, Content: "退税流程", Provenance: []string{ProvenanceKeyword}},
		},
	}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}
	engine := newTestEngine(store, embedder, DefaultFusionConfig())

	result, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "退税 流程"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.InDelta(t, 0.7, result.Candidates[0].Score, 1e-9)
}

func TestRetrieveConfidenceGateIsStrict(t *testing.T) {
	// 闸值本身(0.6)不过闸，必须严格大于
	store := &mockStore{
		vectorResults: []RetrievalCandidate{
			{UnitID: 1, Score: 0.6, Provenance: []string{ProvenanceVector}},
			{UnitID: 2, Score: 0.61, Provenance: []string{ProvenanceVector}},
		},
	}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}
	engine := newTestEngine(store, embedder, DefaultFusionConfig())

	result, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "博物馆 门票"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, uint(2), result.Candidates[0].UnitID)
}

func TestRetrieveForwardsAtMostMaxForwarded(t *testing.T) {
	store := &mockStore{
		vectorResults: []RetrievalCandidate{
			{UnitID: 1, Score: 0.9, Provenance: []string{ProvenanceVector}},
			{UnitID: 2, Score: 0.85, Provenance: []string{ProvenanceVector}},
			{UnitID: 3, Score: 0.8, Provenance: []string{ProvenanceVector}},
		},
	}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}
	engine := newTestEngine(store, embedder, DefaultFusionConfig())

	result, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "行程 规划"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, uint(1), result.Candidates[0].UnitID)
}

func TestRetrieveTieBreakIsDeterministic(t *testing.T) {
	store := &mockStore{
		vectorResults: []RetrievalCandidate{
			{UnitID: 5, Score: 0.8, Provenance: []string{ProvenanceVector}},
			{UnitID: 2, Score: 0.8, Provenance: []string{ProvenanceVector}},
		},
	}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}

	for i := 0; i < 10; i++ {
		engine := newTestEngine(store, embedder, DefaultFusionConfig())
		result, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "同分 并列"})
		require.NoError(t, err)
		require.Len(t, result.Candidates, 1)
		assert.Equal(t, uint(2), result.Candidates[0].UnitID)
	}
}

func TestRetrieveNormalizesAllFilter(t *testing.T) {
	store := &mockStore{}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}
	engine := newTestEngine(store, embedder, DefaultFusionConfig())

	_, err := engine.Retrieve(context.Background(), RetrievalRequest{
		Query:      "美食 推荐",
		Category:   "all",
		Importance: "all",
	})
	require.NoError(t, err)
	assert.Empty(t, store.lastVectorReq.Category)
	assert.Empty(t, store.lastVectorReq.Importance)
}

func TestRetrieveStructuredPassThrough(t *testing.T) {
	// 结构化记录不打分不过闸，原样透传
	store := &mockStore{
		structured: []models.StructuredRecord{
			{ID: 1, Category: "transportation", Data: `{"line":"M1"}`},
		},
	}
	embedder := &mockEmbedder{embedding: []float32{1, 0}}

	completer := &fakeCompleter{content: `{"keywords": ["地铁"], "categories": ["transportation"]}`}
	analyzer := NewQueryAnalyzer(completer, "gpt-3.5-turbo", nil)
	engine := NewRetrievalEngine(store, embedder, analyzer, DefaultFusionConfig(), nil)

	result, err := engine.Retrieve(context.Background(), RetrievalRequest{Query: "地铁"})
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
	require.Len(t, result.Structured, 1)
	assert.Equal(t, "transportation", result.Structured[0].Category)
}

func TestNormalizeFilter(t *testing.T) {
	assert.Equal(t, "", NormalizeFilter("all"))
	assert.Equal(t, "", NormalizeFilter(""))
	assert.Equal(t, "food", NormalizeFilter("food"))
}

func TestDefaultFusionConfig(t *testing.T) {
	cfg := DefaultFusionConfig()
	assert.Equal(t, 0.5, cfg.VectorThreshold)
	assert.Equal(t, 0.7, cfg.KeywordPrior)
	assert.Equal(t, 0.1, cfg.OverlapBoost)
	assert.Equal(t, 0.6, cfg.ConfidenceGate)
	assert.Equal(t, 1, cfg.MaxForwarded)
}
