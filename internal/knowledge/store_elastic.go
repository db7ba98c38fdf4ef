package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/ziwayhub/backend-go/internal/models"
)

// ElasticOptions ES客户端配置
type ElasticOptions struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	Index     string
}

// ElasticKeywordStore 用Elasticsearch执行关键词检索的知识库存储
// 向量检索和结构化查询委托给内层存储；关键词列以keyword类型索引，
// terms查询实现OR语义的精确匹配
type ElasticKeywordStore struct {
	client *elasticsearch.Client
	inner  Store
	index  string
}

// NewElasticKeywordStore 创建ES关键词检索存储
func NewElasticKeywordStore(opts ElasticOptions, inner Store) (*ElasticKeywordStore, error) {
	cfg := elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		APIKey:    opts.APIKey,
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	index := opts.Index
	if index == "" {
		index = "knowledge_units"
	}

	return &ElasticKeywordStore{
		client: client,
		inner:  inner,
		index:  index,
	}, nil
}

// IndexUnit 索引知识单元的关键词字段
func (s *ElasticKeywordStore) IndexUnit(ctx context.Context, unit *models.KnowledgeUnit) error {
	doc := map[string]interface{}{
		"unit_id":    unit.ID,
		"content":    unit.Content,
		"category":   unit.Category,
		"importance": unit.Importance,
		"keywords":   []string(unit.Keywords),
		"labels":     []string(unit.Labels),
	}

	payload, _ := json.Marshal(doc)
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: fmt.Sprintf("%d", unit.ID),
		Body:       bytes.NewReader(payload),
		Refresh:    "true",
	}
	resp, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("index unit error: %s", resp.String())
	}
	return nil
}

// RemoveUnit 从索引中移除知识单元
func (s *ElasticKeywordStore) RemoveUnit(ctx context.Context, unitID uint) error {
	req := esapi.DeleteRequest{
		Index:      s.index,
		DocumentID: fmt.Sprintf("%d", unitID),
	}
	resp, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (s *ElasticKeywordStore) VectorSearch(ctx context.Context, req VectorSearchRequest) ([]RetrievalCandidate, error) {
	return s.inner.VectorSearch(ctx, req)
}

func (s *ElasticKeywordStore) KeywordSearch(ctx context.Context, terms []string, topK int) ([]RetrievalCandidate, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	query := map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []interface{}{
					map[string]interface{}{
						"terms": map[string]interface{}{"keywords": terms},
					},
					map[string]interface{}{
						"terms": map[string]interface{}{"labels": terms},
					},
				},
				"minimum_should_match": 1,
			},
		},
	}

	body, _ := json.Marshal(query)
	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("keyword search error: %s", resp.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source struct {
					UnitID     uint   `json:"unit_id"`
					Content    string `json:"content"`
					Category   string `json:"category"`
					Importance string `json:"importance"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("keyword search decode failed: %w", err)
	}

	results := make([]RetrievalCandidate, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, RetrievalCandidate{
			UnitID:     hit.Source.UnitID,
			Content:    hit.Source.Content,
			Category:   hit.Source.Category,
			Importance: hit.Source.Importance,
			Provenance: []string{ProvenanceKeyword},
		})
	}
	return results, nil
}

func (s *ElasticKeywordStore) StructuredLookup(ctx context.Context, categories []string, limit int) ([]models.StructuredRecord, error) {
	return s.inner.StructuredLookup(ctx, categories, limit)
}
