package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CachedEmbedder wraps an Embedder with a redis cache keyed by the SHA-256 of
// the truncated input. Zero vectors (the failure fallback) are never cached so
// a later retry can produce a real embedding.
type CachedEmbedder struct {
	inner  Embedder
	client *redis.Client
	ttl    time.Duration
}

// NewCached wraps inner with a redis cache.
func NewCached(inner Embedder, client *redis.Client, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, client: client, ttl: ttl}
}

// Dimensions returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// EmbedTexts serves cache hits and delegates the misses in one inner call.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.get(ctx, text); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.EmbedTexts(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, i := range missIdx {
			out[i] = vecs[j]
			if !IsZero(vecs[j]) {
				c.put(ctx, texts[i], vecs[j])
			}
		}
	}
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(Truncate(text)))
	return "embed:" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) get(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.key(text)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Msg("embed_cache_get_failed")
		return nil, false
	}
	vec := decodeVector(raw)
	if len(vec) != c.inner.Dimensions() {
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) put(ctx context.Context, text string, vec []float32) {
	if err := c.client.Set(ctx, c.key(text), encodeVector(vec), c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("embed_cache_set_failed")
	}
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte) []float32 {
	if len(raw)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec
}

var _ Embedder = (*CachedEmbedder)(nil)
