package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	apperrors "github.com/ziwayhub/backend-go/internal/errors"
	"github.com/ziwayhub/backend-go/internal/knowledge"
	"github.com/ziwayhub/backend-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChatRequest 一次聊天请求
// Category/Importance 是可选过滤条件，"all"等同于不过滤
type ChatRequest struct {
	Message    string `json:"message"`
	Category   string `json:"category,omitempty"`
	Importance string `json:"importance,omitempty"`
	UserID     *uint  `json:"-"`
	SessionID  string `json:"session_id,omitempty"`
}

// SourceRef 返回给调用方的引用来源
type SourceRef struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	Category   string  `json:"category"`
}

// ChatResponse 聊天响应
type ChatResponse struct {
	Response       string      `json:"response"`
	Sources        []SourceRef `json:"sources"`
	RetrievedCount int         `json:"retrievedCount"`
	ProcessingTime int64       `json:"processingTime"`
}

// ChatService 每请求编排：校验 → 检索融合 → 上下文组装 → 生成 → 遥测
// 请求之间不共享可变状态
type ChatService struct {
	engine    *knowledge.RetrievalEngine
	assembler *ContextAssembler
	llm       knowledge.ChatCompleter
	chatModel string
	maxTokens int
	telemetry *TelemetryService
	metrics   *MetricsService
	db        *gorm.DB
	logger    *zap.Logger
}

func NewChatService(
	engine *knowledge.RetrievalEngine,
	assembler *ContextAssembler,
	llm knowledge.ChatCompleter,
	chatModel string,
	maxTokens int,
	telemetry *TelemetryService,
	metrics *MetricsService,
	db *gorm.DB,
	logger *zap.Logger,
) *ChatService {
	if chatModel == "" {
		chatModel = "gpt-3.5-turbo"
	}
	return &ChatService{
		engine:    engine,
		assembler: assembler,
		llm:       llm,
		chatModel: chatModel,
		maxTokens: maxTokens,
		telemetry: telemetry,
		metrics:   metrics,
		db:        db,
		logger:    logger,
	}
}

// HandleMessage 处理一次问答
// 致命错误原样返回，由控制器统一转换为道歉响应；
// 遥测在生成调用之后必定记录，无论后续步骤成败
func (s *ChatService) HandleMessage(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	query := strings.TrimSpace(req.Message)
	if query == "" {
		return nil, apperrors.NewEmptyQueryError()
	}

	start := time.Now()

	retrieval, err := s.engine.Retrieve(ctx, knowledge.RetrievalRequest{
		Query:      query,
		Category:   req.Category,
		Importance: req.Importance,
	})
	if err != nil {
		s.metrics.ObserveQuery("error", time.Since(start))
		return nil, err
	}
	s.metrics.ObserveRetrieval(len(retrieval.Candidates))

	bundle := s.assembler.Assemble(query, retrieval.Candidates, retrieval.Structured)

	answer, err := s.generate(ctx, bundle)
	elapsed := time.Since(start)

	// 查询日志在生成之后必定记录，失败也不影响请求结果
	s.telemetry.RecordQuery(ctx, models.RAGQueryLog{
		Query:               query,
		RetrievedUnitsCount: len(retrieval.Candidates),
		Response:            answer,
		ProcessingTimeMs:    elapsed.Milliseconds(),
	})

	if err != nil {
		s.metrics.ObserveQuery("error", elapsed)
		return nil, err
	}
	s.metrics.ObserveQuery("ok", elapsed)

	sources := make([]SourceRef, 0, len(retrieval.Candidates))
	for _, candidate := range retrieval.Candidates {
		sources = append(sources, SourceRef{
			Content:    candidate.Content,
			Similarity: candidate.Score,
			Category:   candidate.Category,
		})
	}

	response := &ChatResponse{
		Response:       answer,
		Sources:        sources,
		RetrievedCount: len(retrieval.Candidates),
		ProcessingTime: elapsed.Milliseconds(),
	}

	// 仅在调用方身份可用时持久化对话；匿名对话留在客户端会话里
	if req.UserID != nil || req.SessionID != "" {
		s.saveTurn(ctx, req, query, response)
	}

	return response, nil
}

// generate 调用生成模型，失败或空响应都按GenerationFailed处理
func (s *ChatService) generate(ctx context.Context, bundle PromptBundle) (string, error) {
	if s.llm == nil {
		return "", apperrors.NewGenerationFailedError(nil)
	}

	resp, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.chatModel,
		Temperature: bundle.Temperature,
		MaxTokens:   s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: bundle.System},
			{Role: openai.ChatMessageRoleUser, Content: bundle.User},
		},
	})
	if err != nil {
		return "", apperrors.NewGenerationFailedError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", apperrors.NewGenerationFailedError(nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// saveTurn 持久化一次问答，失败只记录日志
func (s *ChatService) saveTurn(ctx context.Context, req *ChatRequest, query string, response *ChatResponse) {
	if s.db == nil {
		return
	}

	sourcesJSON, err := json.Marshal(response.Sources)
	if err != nil {
		sourcesJSON = []byte("[]")
	}

	turn := &models.ChatTurn{
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		Query:            query,
		Response:         response.Response,
		Sources:          string(sourcesJSON),
		RetrievedCount:   response.RetrievedCount,
		ProcessingTimeMs: response.ProcessingTime,
	}
	if err := s.db.WithContext(ctx).Create(turn).Error; err != nil {
		s.logger.Error("保存对话记录失败", zap.Error(err))
	}
}
