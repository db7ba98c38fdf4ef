package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/ziwayhub/backend-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// QueryEvent 发往消息队列的查询事件
type QueryEvent struct {
	Query               string `json:"query"`
	RetrievedUnitsCount int    `json:"retrieved_units_count"`
	Response            string `json:"response"`
	ProcessingTimeMs    int64  `json:"processing_time_ms"`
	Timestamp           int64  `json:"timestamp"`
}

// TelemetryService 查询遥测
// Kafka可用时事件进消息队列，否则直接落库；
// 两条路径的失败都只记录日志，绝不影响请求本身
type TelemetryService struct {
	producer sarama.SyncProducer
	topic    string
	db       *gorm.DB
	logger   *zap.Logger
}

func NewTelemetryService(producer sarama.SyncProducer, topic string, db *gorm.DB, logger *zap.Logger) *TelemetryService {
	if topic == "" {
		topic = "rag-query-events"
	}
	return &TelemetryService{
		producer: producer,
		topic:    topic,
		db:       db,
		logger:   logger,
	}
}

// NewKafkaProducer 创建同步生产者
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	return sarama.NewSyncProducer(brokers, config)
}

// RecordQuery 记录一次查询
func (s *TelemetryService) RecordQuery(ctx context.Context, log models.RAGQueryLog) {
	if s == nil {
		return
	}

	if s.producer != nil {
		err := s.publish(log)
		if err == nil {
			return
		}
		s.warn("查询事件发送失败，回退到数据库", zap.Error(err))
	}

	if s.db == nil {
		return
	}
	if err := s.db.WithContext(ctx).Create(&log).Error; err != nil {
		s.warn("查询日志写入失败", zap.Error(err))
	}
}

func (s *TelemetryService) publish(log models.RAGQueryLog) error {
	event := QueryEvent{
		Query:               log.Query,
		RetrievedUnitsCount: log.RetrievedUnitsCount,
		Response:            log.Response,
		ProcessingTimeMs:    log.ProcessingTimeMs,
		Timestamp:           time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	message := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err = s.producer.SendMessage(message)
	return err
}

// Close 关闭生产者
func (s *TelemetryService) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

func (s *TelemetryService) warn(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Warn(msg, fields...)
	}
}
