package redis_repository

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/mohammad-safakhou/agentrouter/provider"
)

const embeddingKeyPrefix = "emb:"

// EmbeddingCache memoises an Embedder in Redis. Cache failures are logged
// and fall through to the wrapped embedder.
type EmbeddingCache struct {
	client redis.Cmdable
	inner  provider.Embedder
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewEmbeddingCache wraps inner. model namespaces the keys so switching
// embedding models never serves stale vectors.
func NewEmbeddingCache(client redis.Cmdable, inner provider.Embedder, model string, ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if model == "" {
		if n, ok := inner.(provider.Named); ok {
			model = n.Name()
		}
	}
	return &EmbeddingCache{client: client, inner: inner, model: model, ttl: ttl, logger: logger.Named("embedding_cache")}
}

// Name reports the wrapped model.
func (c *EmbeddingCache) Name() string { return c.model }

// EmbeddingKey returns the cache key for text under model.
func EmbeddingKey(model, text string) string {
	sum := blake2b.Sum256([]byte(model + "\x00" + text))
	return embeddingKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch serves hits from Redis and embeds the misses in one call.
func (c *EmbeddingCache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = EmbeddingKey(c.model, t)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("cache read failed", zap.Error(err))
		vals = make([]interface{}, len(texts))
	}
	var missIdx []int
	var missTexts []string
	for i, v := range vals {
		if s, ok := v.(string); ok {
			if vec, err := DecodeVector([]byte(s)); err == nil {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	fresh, err := provider.EmbedAll(ctx, c.inner, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", provider.ErrEmbeddingUnavailable, len(fresh), len(missTexts))
	}
	pipe := c.client.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		pipe.Set(ctx, keys[i], EncodeVector(fresh[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err), zap.Int("vectors", len(missIdx)))
	}
	return out, nil
}

// EncodeVector packs v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

// DecodeVector reverses EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("corrupt vector encoding")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
