package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ziwayhub/backend-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IngestRow 一行待摄入数据
// 支持两种形态：直接给content，或给question+answer由服务合成内容
type IngestRow struct {
	Content    string `validate:"required_without=Question"`
	Question   string `validate:"required_without=Content"`
	Answer     string
	Category   string
	Importance string
	Labels     []string
	Keywords   []string
}

// IngestReport CSV摄入结果
type IngestReport struct {
	Total    int      `json:"total"`
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// IngestService CSV知识摄入
// 单元先以pending状态入库，向量生成交给worker异步处理，
// 摄入吞吐不受Embedding API延迟影响
type IngestService struct {
	db              *gorm.DB
	worker          *EmbeddingWorker
	validate        *validator.Validate
	defaultCategory string
	categories      map[string]struct{}
	logger          *zap.Logger
}

func NewIngestService(db *gorm.DB, worker *EmbeddingWorker, defaultCategory string, categories []string, logger *zap.Logger) *IngestService {
	if defaultCategory == "" {
		defaultCategory = "general"
	}
	allowed := make(map[string]struct{}, len(categories))
	for _, category := range categories {
		allowed[strings.ToLower(strings.TrimSpace(category))] = struct{}{}
	}
	return &IngestService{
		db:              db,
		worker:          worker,
		validate:        validator.New(),
		defaultCategory: defaultCategory,
		categories:      allowed,
		logger:          logger,
	}
}

// IngestCSV 解析CSV并逐行入库
// 表头决定列映射；坏行跳过并记入报告，不中断整个批次
func (s *IngestService) IngestCSV(ctx context.Context, reader io.Reader) (*IngestReport, error) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取CSV表头失败: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, hasContent := columns["content"]; !hasContent {
		if _, hasQuestion := columns["question"]; !hasQuestion {
			return nil, fmt.Errorf("CSV缺少content或question列")
		}
	}

	report := &IngestReport{}
	line := 1
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			report.Skipped++
			report.Errors = appendReportError(report.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		row := s.parseRow(columns, record)
		if err := s.IngestRow(ctx, row); err != nil {
			report.Skipped++
			report.Errors = appendReportError(report.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		report.Inserted++
	}
	report.Total = report.Inserted + report.Skipped

	s.logger.Info("CSV摄入完成",
		zap.Int("total", report.Total),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

// IngestRow 校验并写入一行知识
func (s *IngestService) IngestRow(ctx context.Context, row IngestRow) error {
	row.Content = strings.TrimSpace(row.Content)
	row.Question = strings.TrimSpace(row.Question)
	row.Answer = strings.TrimSpace(row.Answer)

	if err := s.validate.Struct(row); err != nil {
		return fmt.Errorf("行校验失败: %w", err)
	}

	unit := &models.KnowledgeUnit{
		Category:        s.normalizeCategory(row.Category),
		Importance:      normalizeImportance(row.Importance),
		Keywords:        cleanTerms(row.Keywords),
		Labels:          cleanTerms(row.Labels),
		EmbeddingStatus: models.EmbeddingStatusPending,
	}

	if row.Content != "" {
		unit.Content = row.Content
	} else {
		// 问答对合成为单条内容，原始问答保留在entities里
		unit.Content = fmt.Sprintf("Question: %s\nAnswer: %s", row.Question, row.Answer)
		entities, err := json.Marshal(map[string]string{
			"question": row.Question,
			"answer":   row.Answer,
		})
		if err == nil {
			unit.Entities = string(entities)
		}
	}

	if err := s.db.WithContext(ctx).Create(unit).Error; err != nil {
		return fmt.Errorf("写入知识单元失败: %w", err)
	}

	s.worker.Enqueue(unit.ID)
	return nil
}

func (s *IngestService) parseRow(columns map[string]int, record []string) IngestRow {
	get := func(name string) string {
		index, ok := columns[name]
		if !ok || index >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[index])
	}

	return IngestRow{
		Content:    get("content"),
		Question:   get("question"),
		Answer:     get("answer"),
		Category:   get("category"),
		Importance: get("importance"),
		Labels:     splitTerms(get("labels")),
		Keywords:   splitTerms(get("keywords")),
	}
}

// normalizeCategory 类别是闭集，未知取值回落到默认类别
func (s *IngestService) normalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return s.defaultCategory
	}
	if _, ok := s.categories[category]; ok {
		return category
	}
	return s.defaultCategory
}

func normalizeImportance(importance string) string {
	switch strings.ToLower(strings.TrimSpace(importance)) {
	case models.ImportanceLow:
		return models.ImportanceLow
	case models.ImportanceHigh:
		return models.ImportanceHigh
	default:
		return models.ImportanceMedium
	}
}

// splitTerms 支持分号或逗号分隔
func splitTerms(raw string) []string {
	if raw == "" {
		return nil
	}
	separator := ","
	if strings.Contains(raw, ";") {
		separator = ";"
	}
	return cleanTerms(strings.Split(raw, separator))
}

func cleanTerms(terms []string) []string {
	cleaned := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term != "" {
			cleaned = append(cleaned, term)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

func appendReportError(errors []string, message string) []string {
	if len(errors) >= maxReportedErrors {
		return errors
	}
	return append(errors, message)
}
