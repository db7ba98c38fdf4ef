package models

import (
	"time"

	"github.com/lib/pq"
)

// 向量生成状态
const (
	EmbeddingStatusPending = "pending"
	EmbeddingStatusReady   = "ready"
	EmbeddingStatusFailed  = "failed"
)

// 重要程度取值
const (
	ImportanceLow    = "low"
	ImportanceMedium = "medium"
	ImportanceHigh   = "high"
)

// KnowledgeUnit 知识单元：一条可检索的事实或问答对
// Embedding列保存JSON编码的float32向量；为空表示向量尚未生成，
// 此时该单元对向量检索不可见，但关键词检索仍然可见
type KnowledgeUnit struct {
	ID              uint           `gorm:"primaryKey;column:unit_id" json:"id"`
	Content         string         `gorm:"type:text;not null" json:"content"`
	Category        string         `gorm:"size:50;not null;default:general;index" json:"category"`
	Importance      string         `gorm:"size:20;not null;default:medium" json:"importance"`
	Keywords        pq.StringArray `gorm:"type:text[]" json:"keywords"`
	Labels          pq.StringArray `gorm:"type:text[]" json:"labels"`
	Embedding       string         `gorm:"type:text" json:"-"`
	EmbeddingStatus string         `gorm:"size:20;not null;default:pending;index" json:"embedding_status"`
	EmbeddingError  string         `gorm:"type:text" json:"embedding_error,omitempty"`
	Entities        string         `gorm:"type:json" json:"entities,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (KnowledgeUnit) TableName() string {
	return "knowledge_units"
}

// StructuredRecord 结构化辅助数据，仅作为生成上下文，不参与打分
type StructuredRecord struct {
	ID        uint      `gorm:"primaryKey;column:record_id" json:"id"`
	Category  string    `gorm:"size:50;not null;index" json:"category"`
	Data      string    `gorm:"type:json;not null" json:"data"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (StructuredRecord) TableName() string {
	return "structured_data"
}

// RAGQueryLog 检索查询日志，追加写入
type RAGQueryLog struct {
	ID                  uint      `gorm:"primaryKey;column:log_id" json:"id"`
	Query               string    `gorm:"type:text;not null" json:"query"`
	RetrievedUnitsCount int       `gorm:"not null;default:0" json:"retrieved_units_count"`
	Response            string    `gorm:"type:text" json:"response"`
	ProcessingTimeMs    int64     `gorm:"not null;default:0" json:"processing_time_ms"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RAGQueryLog) TableName() string {
	return "rag_query_logs"
}

// ChatTurn 一次问答交互，仅在调用方身份可用时持久化，写入后不可变
type ChatTurn struct {
	ID               uint      `gorm:"primaryKey;column:turn_id" json:"id"`
	UserID           *uint     `gorm:"index" json:"user_id,omitempty"`
	SessionID        string    `gorm:"size:100;index" json:"session_id,omitempty"`
	Query            string    `gorm:"type:text;not null" json:"query"`
	Response         string    `gorm:"type:text;not null" json:"response"`
	Sources          string    `gorm:"type:json" json:"sources"`
	RetrievedCount   int       `gorm:"not null;default:0" json:"retrieved_count"`
	ProcessingTimeMs int64     `gorm:"not null;default:0" json:"processing_time_ms"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ChatTurn) TableName() string {
	return "chat_turns"
}
