package knowledge

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

type fakeCompleter struct {
	content string
	err     error
	empty   bool

	lastReq openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	if f.empty {
		return openai.ChatCompletionResponse{}, nil
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func TestAnalyzeWithoutClientFallsBackToFields(t *testing.T) {
	analyzer := NewQueryAnalyzer(nil, "", nil)

	insight := analyzer.Analyze(context.Background(), "巴黎 地铁 末班车")
	assert.Equal(t, []string{"巴黎", "地铁", "末班车"}, insight.Keywords)
	assert.Empty(t, insight.Categories)
}

func TestAnalyzeAPIErrorFallsBack(t *testing.T) {
	analyzer := NewQueryAnalyzer(&fakeCompleter{err: errors.New("timeout")}, "", nil)

	insight := analyzer.Analyze(context.Background(), "退税 流程")
	assert.Equal(t, []string{"退税", "流程"}, insight.Keywords)
	assert.Empty(t, insight.Categories)
}

func TestAnalyzeBadJSONFallsBack(t *testing.T) {
	analyzer := NewQueryAnalyzer(&fakeCompleter{content: "这不是JSON"}, "", nil)

	insight := analyzer.Analyze(context.Background(), "酒店 推荐")
	assert.Equal(t, []string{"酒店", "推荐"}, insight.Keywords)
}

func TestAnalyzeEmptyChoicesFallsBack(t *testing.T) {
	analyzer := NewQueryAnalyzer(&fakeCompleter{empty: true}, "", nil)

	insight := analyzer.Analyze(context.Background(), "签证")
	assert.Equal(t, []string{"签证"}, insight.Keywords)
}

func TestAnalyzeParsesInsight(t *testing.T) {
	completer := &fakeCompleter{content: `{"keywords": ["地铁", "安全", "地铁"], "categories": ["transportation", "safety"]}`}
	analyzer := NewQueryAnalyzer(completer, "gpt-3.5-turbo", nil)

	insight := analyzer.Analyze(context.Background(), "晚上坐地铁安全吗")
	assert.Equal(t, []string{"地铁", "安全"}, insight.Keywords)
	assert.Equal(t, []string{"transportation", "safety"}, insight.Categories)
	assert.Equal(t, "gpt-3.5-turbo", completer.lastReq.Model)
	assert.InDelta(t, 0.3, float64(completer.lastReq.Temperature), 1e-6)
}

func TestDedupeTerms(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupeTerms([]string{"a", " b ", "a", "", "  "}))
	assert.Empty(t, dedupeTerms(nil))
}
