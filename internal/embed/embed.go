// Package embed turns text into fixed-dimension vectors through an
// OpenAI-compatible embeddings endpoint. A batch never fails as a whole: any
// input the model rejects comes back as a zero vector and the error is logged,
// leaving the record retry-eligible downstream.
package embed

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"

	"docstream/internal/config"
)

// MaxInputChars is the per-input truncation applied before submission.
const MaxInputChars = 10000

// Embedder is implemented by anything that can vectorize text.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Client calls the embeddings API.
type Client struct {
	sdk   openai.Client
	model string
	dims  int
}

// New creates an embedding client from configuration.
func New(cfg config.EmbeddingsConfig) *Client {
	opts := []option.RequestOption{}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &Client{
		sdk:   openai.NewClient(opts...),
		model: cfg.Model,
		dims:  cfg.Dimensions,
	}
}

// Dimensions returns the fixed output dimension.
func (c *Client) Dimensions() int { return c.dims }

// EmbedTexts embeds each input independently. Inputs are truncated to
// MaxInputChars; per-input failures substitute a zero vector.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, Truncate(text))
		if err != nil {
			log.Error().Err(err).Int("input", i).Msg("embed_fallback_zero_vector")
			vec = make([]float32, c.dims)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Dimensions: openai.Int(int64(c.dims)),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return make([]float32, c.dims), nil
	}
	vec := make([]float32, c.dims)
	for i, v := range resp.Data[0].Embedding {
		if i == c.dims {
			break
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

// Truncate caps text at MaxInputChars without splitting a UTF-8 sequence.
func Truncate(text string) string {
	if len(text) <= MaxInputChars {
		return text
	}
	cut := MaxInputChars
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut]
}

// IsZero reports whether every component of vec is zero.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

var _ Embedder = (*Client)(nil)
