package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziwayhub/backend-go/internal/models"
)

func newTestIngestService() *IngestService {
	return NewIngestService(nil, nil, "general", []string{
		"general", "transportation", "accommodation", "food", "attraction", "safety", "culture",
	}, nil)
}

func TestNormalizeCategory(t *testing.T) {
	s := newTestIngestService()

	assert.Equal(t, "food", s.normalizeCategory("food"))
	assert.Equal(t, "food", s.normalizeCategory(" FOOD "))
	// 类别是闭集，未知取值回落到默认类别
	assert.Equal(t, "general", s.normalizeCategory("unknown"))
	assert.Equal(t, "general", s.normalizeCategory(""))
}

func TestNormalizeImportance(t *testing.T) {
	assert.Equal(t, models.ImportanceLow, normalizeImportance("low"))
	assert.Equal(t, models.ImportanceHigh, normalizeImportance("HIGH"))
	assert.Equal(t, models.ImportanceMedium, normalizeImportance("medium"))
	assert.Equal(t, models.ImportanceMedium, normalizeImportance(""))
	assert.Equal(t, models.ImportanceMedium, normalizeImportance("critical"))
}

func TestSplitTerms(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitTerms("a,b"))
	assert.Equal(t, []string{"a", "b"}, splitTerms("a; b"))
	assert.Equal(t, []string{"a,b", "c"}, splitTerms("a,b;c"))
	assert.Nil(t, splitTerms(""))
	assert.Nil(t, splitTerms(" , , "))
}

func TestIngestCSVMissingContentColumn(t *testing.T) {
	s := newTestIngestService()

	_, err := s.IngestCSV(context.Background(), strings.NewReader("category,importance\nfood,high\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content")
}

func TestIngestCSVEmptyInput(t *testing.T) {
	s := newTestIngestService()

	_, err := s.IngestCSV(context.Background(), strings.NewReader(""))
	assert.Error(t, err)
}

func TestParseRowQuestionAnswer(t *testing.T) {
	s := newTestIngestService()
	columns := map[string]int{
		"question": 0, "answer": 1, "category": 2, "importance": 3, "labels": 4, "keywords": 5,
	}
	row := s.parseRow(columns, []string{
		"地铁几点停运", "凌晨1点", "transportation", "high", "地铁;夜间", "末班车,时间",
	})

	assert.Equal(t, "地铁几点停运", row.Question)
	assert.Equal(t, "凌晨1点", row.Answer)
	assert.Equal(t, "transportation", row.Category)
	assert.Equal(t, []string{"地铁", "夜间"}, row.Labels)
	assert.Equal(t, []string{"末班车", "时间"}, row.Keywords)
}

func TestParseRowShortRecord(t *testing.T) {
	s := newTestIngestService()
	columns := map[string]int{"content": 0, "category": 1}
	row := s.parseRow(columns, []string{"只有内容"})

	assert.Equal(t, "只有内容", row.Content)
	assert.Empty(t, row.Category)
}

func TestIngestRowValidation(t *testing.T) {
	s := newTestIngestService()

	// content和question都缺失时校验失败，不触达数据库
	err := s.IngestRow(context.Background(), IngestRow{Category: "food"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "校验")
}

func TestAppendReportErrorCaps(t *testing.T) {
	var errs []string
	for i := 0; i < maxReportedErrors+5; i++ {
		errs = appendReportError(errs, "boom")
	}
	assert.Len(t, errs, maxReportedErrors)
}
