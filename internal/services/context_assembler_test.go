package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ziwayhub/backend-go/internal/knowledge"
	"github.com/ziwayhub/backend-go/internal/models"
)

func TestAssembleGrounded(t *testing.T) {
	assembler := NewContextAssembler(0.7, 0.9)
	candidates := []knowledge.RetrievalCandidate{
		{UnitID: 1, Content: "地铁末班车是凌晨1点", Category: "transportation", Score: 0.85},
	}

	bundle := assembler.Assemble("地铁几点停运", candidates, nil)

	assert.True(t, bundle.Grounded)
	assert.InDelta(t, 0.7, float64(bundle.Temperature), 1e-6)
	assert.Contains(t, bundle.User, "地铁末班车是凌晨1点")
	assert.Contains(t, bundle.User, "[类别: transportation]")
	assert.Contains(t, bundle.User, "地铁几点停运")
	assert.NotContains(t, bundle.User, noContextMarker)
}

func TestAssembleGroundedJoinsCandidates(t *testing.T) {
	assembler := NewContextAssembler(0.7, 0.9)
	candidates := []knowledge.RetrievalCandidate{
		{UnitID: 1, Content: "第一条", Category: "food", Score: 0.9},
		{UnitID: 2, Content: "第二条", Category: "safety", Score: 0.8},
	}

	bundle := assembler.Assemble("问题", candidates, nil)
	assert.Equal(t, 1, strings.Count(bundle.User, "\n\n---\n\n"))
}

func TestAssembleUngroundedUsesMarkerAndHigherTemperature(t *testing.T) {
	assembler := NewContextAssembler(0.7, 0.9)

	bundle := assembler.Assemble("冰岛有什么好玩的", nil, nil)

	assert.False(t, bundle.Grounded)
	assert.InDelta(t, 0.9, float64(bundle.Temperature), 1e-6)
	assert.Contains(t, bundle.User, noContextMarker)
	assert.Contains(t, bundle.User, "冰岛有什么好玩的")
}

func TestAssembleIncludesStructuredData(t *testing.T) {
	assembler := NewContextAssembler(0.7, 0.9)
	structured := []models.StructuredRecord{
		{ID: 1, Category: "transportation", Data: `{"line":"M1","last":"01:00"}`},
	}

	grounded := assembler.Assemble("地铁", []knowledge.RetrievalCandidate{
		{UnitID: 1, Content: "内容", Category: "transportation", Score: 0.9},
	}, structured)
	assert.Contains(t, grounded.User, "相关结构化数据")
	assert.Contains(t, grounded.User, `"line":"M1"`)

	ungrounded := assembler.Assemble("地铁", nil, structured)
	assert.Contains(t, ungrounded.User, "相关结构化数据")
}

func TestAssembleDefaultTemperatures(t *testing.T) {
	assembler := NewContextAssembler(0, 0)

	grounded := assembler.Assemble("q", []knowledge.RetrievalCandidate{{UnitID: 1, Content: "c"}}, nil)
	assert.InDelta(t, 0.7, float64(grounded.Temperature), 1e-6)

	ungrounded := assembler.Assemble("q", nil, nil)
	assert.InDelta(t, 0.9, float64(ungrounded.Temperature), 1e-6)
}

func TestSystemPromptCarriesPersona(t *testing.T) {
	assembler := NewContextAssembler(0.7, 0.9)
	bundle := assembler.Assemble("q", nil, nil)
	assert.Contains(t, bundle.System, "Ziway")
	assert.Contains(t, bundle.System, "安全")
}
