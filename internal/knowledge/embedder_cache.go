package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedEmbedder 带Redis缓存的向量生成器
// 同一查询文本的向量直接命中缓存，省掉一次Embedding API往返；
// 缓存读写失败都只降级为直连，不影响请求
type CachedEmbedder struct {
	inner  Embedder
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedEmbedder(inner Embedder, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedEmbedder{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)

	if cached, err := e.client.Get(ctx, key).Result(); err == nil {
		var embedding []float32
		if err := json.Unmarshal([]byte(cached), &embedding); err == nil && len(embedding) > 0 {
			return embedding, nil
		}
	} else if err != redis.Nil {
		e.warn("读取向量缓存失败", zap.Error(err))
	}

	embedding, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(embedding); err == nil {
		if err := e.client.Set(ctx, key, payload, e.ttl).Err(); err != nil {
			e.warn("写入向量缓存失败", zap.Error(err))
		}
	}
	return embedding, nil
}

func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

func (e *CachedEmbedder) Ready() bool {
	return e.inner.Ready()
}

func (e *CachedEmbedder) cacheKey(text string) string {
	digest := sha256.Sum256([]byte(text))
	return "embedding:" + hex.EncodeToString(digest[:])
}

func (e *CachedEmbedder) warn(msg string, fields ...zap.Field) {
	if e.logger != nil {
		e.logger.Warn(msg, fields...)
	}
}
