package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyQueryError(t *testing.T) {
	err := NewEmptyQueryError()
	assert.Equal(t, ErrCodeEmptyQuery, err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPCode)
}

func TestPipelineErrorsAreFatalWith500(t *testing.T) {
	cause := errors.New("boom")
	for _, err := range []*AppError{
		NewEmbeddingUnavailableError(cause),
		NewRetrievalFailedError(cause),
		NewGenerationFailedError(cause),
	} {
		assert.Equal(t, http.StatusInternalServerError, err.HTTPCode)
		assert.ErrorIs(t, err, cause)
	}
}

func TestGetAppErrorWrapsUnknown(t *testing.T) {
	cause := errors.New("raw failure")
	appErr := GetAppError(cause)

	assert.Equal(t, ErrCodeInternalServer, appErr.Code)
	// 内部错误细节不进对外消息
	assert.Equal(t, "处理请求失败", appErr.Message)
	assert.ErrorIs(t, appErr, cause)
}

func TestGetAppErrorPassesThrough(t *testing.T) {
	original := NewEmptyQueryError()
	assert.Same(t, original, GetAppError(original))
}

func TestIsCode(t *testing.T) {
	err := NewRetrievalFailedError(errors.New("db down"))
	assert.True(t, IsCode(err, ErrCodeRetrievalFailed))
	assert.False(t, IsCode(err, ErrCodeGenerationFailed))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeRetrievalFailed))
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := NewGenerationFailedError(errors.New("timeout"))
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "生成回答失败")
}
