package knowledge

import (
	"context"
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatCompleter 聊天补全客户端抽象，*openai.Client 满足该接口
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// QueryInsight 查询理解结果
type QueryInsight struct {
	Keywords   []string `json:"keywords"`
	Categories []string `json:"categories"`
}

const analyzerSystemPrompt = `你是一个专业的查询分析器。请从用户的问题中提取关键词和类别。返回格式：{"keywords": ["关键词1", "关键词2"], "categories": ["类别1"]}`

// QueryAnalyzer 轻量查询理解：调用辅助模型提取关键词和候选类别
// 该组件永不返回错误——辅助模型不可用或返回不可解析内容时，
// 确定性退化为按空白切分查询，保证管线可用
type QueryAnalyzer struct {
	client ChatCompleter
	model  string
	logger *zap.Logger
}

func NewQueryAnalyzer(client ChatCompleter, model string, logger *zap.Logger) *QueryAnalyzer {
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &QueryAnalyzer{client: client, model: model, logger: logger}
}

// Analyze 提取关键词与类别，失败时退化为naive分词
func (a *QueryAnalyzer) Analyze(ctx context.Context, query string) QueryInsight {
	fallback := QueryInsight{Keywords: strings.Fields(query), Categories: []string{}}
	if a.client == nil {
		return fallback
	}

	temperature := float32(0.3)
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analyzerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err != nil {
		a.warn("查询分析失败，使用默认值", zap.Error(err))
		return fallback
	}
	if len(resp.Choices) == 0 {
		a.warn("查询分析返回空结果，使用默认值")
		return fallback
	}

	var insight QueryInsight
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &insight); err != nil {
		a.warn("查询分析JSON解析失败，使用默认值", zap.String("content", content))
		return fallback
	}

	insight.Keywords = dedupeTerms(insight.Keywords)
	if insight.Categories == nil {
		insight.Categories = []string{}
	}
	return insight
}

func (a *QueryAnalyzer) warn(msg string, fields ...zap.Field) {
	if a.logger != nil {
		a.logger.Warn(msg, fields...)
	}
}

// dedupeTerms 去重并剔除空白项
func dedupeTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	result := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		result = append(result, term)
	}
	return result
}
