package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/ziwayhub/backend-go/internal/models"
)

// VectorSink 向量写入端，供摄入路径同步向量
type VectorSink interface {
	UpsertUnitVector(ctx context.Context, unit *models.KnowledgeUnit, embedding []float32) error
	DeleteUnitVector(ctx context.Context, unitID uint) error
}

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	VectorSize int
	UseTLS     bool
}

// MilvusStore 使用Milvus做向量检索的知识库存储
// 关键词检索和结构化查询仍委托给数据库存储
type MilvusStore struct {
	milvusClient client.Client
	base         *DatabaseStore
	collection   string
	vectorSize   int
	ensured      bool
}

// NewMilvusStore 创建Milvus向量存储
func NewMilvusStore(opts MilvusOptions, base *DatabaseStore) (*MilvusStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "knowledge_units"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	milvusClient, err := client.NewClient(context.Background(), client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &MilvusStore{
		milvusClient: milvusClient,
		base:         base,
		collection:   opts.Collection,
		vectorSize:   opts.VectorSize,
	}, nil
}

func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	if s.ensured {
		return nil
	}

	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if hasCollection {
		s.ensured = true
		return nil
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "Ziway knowledge unit vectors",
		Fields: []*entity.Field{
			{Name: "id", DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: false},
			{Name: "category", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "64"}},
			{Name: "importance", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "32"}},
			{Name: "content", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "65535"}},
			{Name: "vector", DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.vectorSize)}},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	var index entity.Index
	index, err = entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		index, err = entity.NewIndexIvfFlat(entity.COSINE, 128)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
		// 索引创建失败不影响使用
		fmt.Printf("warning: failed to create index for collection %s: %v\n", s.collection, err)
	}

	s.ensured = true
	return nil
}

// UpsertUnitVector 写入知识单元向量
func (s *MilvusStore) UpsertUnitVector(ctx context.Context, unit *models.KnowledgeUnit, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding is empty")
	}
	if len(embedding) != s.vectorSize {
		padded := make([]float32, s.vectorSize)
		copy(padded, embedding)
		embedding = padded
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	idColumn := entity.NewColumnInt64("id", []int64{int64(unit.ID)})
	categoryColumn := entity.NewColumnVarChar("category", []string{unit.Category})
	importanceColumn := entity.NewColumnVarChar("importance", []string{unit.Importance})
	contentColumn := entity.NewColumnVarChar("content", []string{unit.Content})
	vectorColumn := entity.NewColumnFloatVector("vector", s.vectorSize, [][]float32{embedding})

	if _, err := s.milvusClient.Insert(ctx, s.collection, "", idColumn, categoryColumn, importanceColumn, contentColumn, vectorColumn); err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		fmt.Printf("warning: failed to flush collection %s: %v\n", s.collection, err)
	}
	return nil
}

// DeleteUnitVector 删除知识单元向量
func (s *MilvusStore) DeleteUnitVector(ctx context.Context, unitID uint) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	expr := fmt.Sprintf("id == %d", unitID)
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

func (s *MilvusStore) VectorSearch(ctx context.Context, req VectorSearchRequest) ([]RetrievalCandidate, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	expr := ""
	if req.Category != "" {
		expr = fmt.Sprintf(`category == "%s"`, req.Category)
	}
	if req.Importance != "" {
		if expr != "" {
			expr += " && "
		}
		expr += fmt.Sprintf(`importance == "%s"`, req.Importance)
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	queryVector := entity.FloatVector(req.QueryEmbedding)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		expr,
		[]string{"category", "importance", "content"},
		[]entity.Vector{queryVector},
		"vector",
		entity.COSINE,
		req.TopK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return []RetrievalCandidate{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}
	if result.ResultCount == 0 {
		return []RetrievalCandidate{}, nil
	}

	var ids []int64
	if idCol, ok := result.IDs.(*entity.ColumnInt64); ok {
		ids = idCol.Data()
	}

	var categories, importances, contents []string
	for _, field := range result.Fields {
		col, ok := field.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		switch field.Name() {
		case "category":
			categories = col.Data()
		case "importance":
			importances = col.Data()
		case "content":
			contents = col.Data()
		}
	}

	candidates := make([]RetrievalCandidate, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		// 阈值过滤在应用侧执行，与数据库存储行为保持一致
		if score < req.Threshold {
			continue
		}
		candidate := RetrievalCandidate{
			Score:      score,
			Provenance: []string{ProvenanceVector},
		}
		if i < len(ids) {
			candidate.UnitID = uint(ids[i])
		}
		if i < len(categories) {
			candidate.Category = categories[i]
		}
		if i < len(importances) {
			candidate.Importance = importances[i]
		}
		if i < len(contents) {
			candidate.Content = contents[i]
		}
		candidates = append(candidates, candidate)
	}

	sortCandidatesByScore(candidates)
	return candidates, nil
}

func (s *MilvusStore) KeywordSearch(ctx context.Context, terms []string, topK int) ([]RetrievalCandidate, error) {
	return s.base.KeywordSearch(ctx, terms, topK)
}

func (s *MilvusStore) StructuredLookup(ctx context.Context, categories []string, limit int) ([]models.StructuredRecord, error) {
	return s.base.StructuredLookup(ctx, categories, limit)
}

func (s *MilvusStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
