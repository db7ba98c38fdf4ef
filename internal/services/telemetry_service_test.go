package services

import (
	"context"
	"testing"

	"github.com/ziwayhub/backend-go/internal/models"
)

func TestRecordQueryNilServiceIsSafe(t *testing.T) {
	var s *TelemetryService
	// 遥测缺席时绝不panic，也绝不影响调用方
	s.RecordQuery(context.Background(), models.RAGQueryLog{Query: "q"})
}

func TestRecordQueryNoSinksIsSafe(t *testing.T) {
	s := NewTelemetryService(nil, "", nil, nil)
	s.RecordQuery(context.Background(), models.RAGQueryLog{Query: "q"})
}

func TestCloseWithoutProducer(t *testing.T) {
	s := NewTelemetryService(nil, "", nil, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var nilService *TelemetryService
	if err := nilService.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
