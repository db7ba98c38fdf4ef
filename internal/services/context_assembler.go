package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ziwayhub/backend-go/internal/knowledge"
	"github.com/ziwayhub/backend-go/internal/models"
)

// ziwaySystemPrompt 生成回答的人设与接地规则
const ziwaySystemPrompt = `你是Ziway，AI旅行助手和朋友。你为用户准备了丰富的欧洲旅行经验和生活知识。

你的性格特点：
- 热情友好，像朋友一样关心用户的安全和体验
- 有丰富的欧洲生活和旅行经验
- 会用温暖的语气提供实用建议

回答方式：
1. 如果知识库中有相关信息，优先使用这些信息回答
2. 如果知识库中没有完全匹配的信息，明确说明后再结合你的AI知识和常识来回答
3. 推荐旅行攻略时，必须标注治安较差的区域并提供安全提醒
4. 始终保持友好、实用、贴心的语调

安全提醒原则：
- 推荐景点时，主动提及附近需要注意的区域
- 给出具体的安全建议（避免夜晚独行、贵重物品保管等）
- 特别关心独自旅行人士的安全`

// noContextMarker 未检索到相关内容时的显式标记
const noContextMarker = "知识库中没有找到直接相关的信息"

// PromptBundle 组装好的生成请求
type PromptBundle struct {
	System      string
	User        string
	Temperature float32
	Grounded    bool
}

// ContextAssembler 上下文组装器
// 有接地上下文时用较低温度让回答贴近检索文本，
// 无上下文时提高温度让模型更开放地依靠通用知识
type ContextAssembler struct {
	groundedTemperature   float32
	ungroundedTemperature float32
}

func NewContextAssembler(groundedTemperature, ungroundedTemperature float64) *ContextAssembler {
	if groundedTemperature <= 0 {
		groundedTemperature = 0.7
	}
	if ungroundedTemperature <= 0 {
		ungroundedTemperature = 0.9
	}
	return &ContextAssembler{
		groundedTemperature:   float32(groundedTemperature),
		ungroundedTemperature: float32(ungroundedTemperature),
	}
}

// Assemble 把过闸候选和结构化记录组装为生成提示
func (a *ContextAssembler) Assemble(query string, candidates []knowledge.RetrievalCandidate, structured []models.StructuredRecord) PromptBundle {
	structuredContext := a.structuredContext(structured)

	if len(candidates) == 0 {
		user := fmt.Sprintf(
			"用户问了一个问题：%s\n\n%s，请明确说明这一点，然后用你的AI知识和常识来详细帮助用户，并包含重要的安全提醒。%s",
			query, noContextMarker, structuredContext)
		return PromptBundle{
			System:      ziwaySystemPrompt,
			User:        user,
			Temperature: a.ungroundedTemperature,
			Grounded:    false,
		}
	}

	parts := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		parts = append(parts, fmt.Sprintf("[类别: %s]\n%s", candidate.Category, candidate.Content))
	}
	context := strings.Join(parts, "\n\n---\n\n")

	user := fmt.Sprintf(
		"我为你准备了一些相关的知识信息：\n%s%s\n\n现在请回答用户的问题：%s",
		context, structuredContext, query)
	return PromptBundle{
		System:      ziwaySystemPrompt,
		User:        user,
		Temperature: a.groundedTemperature,
		Grounded:    true,
	}
}

// structuredContext 序列化结构化辅助数据
func (a *ContextAssembler) structuredContext(records []models.StructuredRecord) string {
	if len(records) == 0 {
		return ""
	}
	lines := make([]string, 0, len(records))
	for _, record := range records {
		payload, err := json.Marshal(map[string]interface{}{
			"category": record.Category,
			"data":     json.RawMessage(record.Data),
		})
		if err != nil {
			continue
		}
		lines = append(lines, string(payload))
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\n相关结构化数据:\n" + strings.Join(lines, "\n")
}
