package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/mirthlab/jokebox/internal/profile"
)

// EmbeddingService is the vector embedding service interface.
// Implementations must be deterministic for a given model version: the same
// text always yields the same vector.
type EmbeddingService interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

type embeddingService struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewEmbeddingService creates a new EmbeddingService from the profile.
func NewEmbeddingService(p *profile.Profile) (EmbeddingService, error) {
	var clientConfig openai.ClientConfig

	switch p.EmbeddingProvider {
	case "openai", "siliconflow", "ollama":
		// All three expose an OpenAI-compatible embeddings endpoint.
		clientConfig = openai.DefaultConfig(p.EmbeddingAPIKey)
		if p.EmbeddingBaseURL != "" {
			clientConfig.BaseURL = p.EmbeddingBaseURL
		}

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", p.EmbeddingProvider)
	}

	client := openai.NewClientWithConfig(clientConfig)

	return &embeddingService{
		client:     client,
		model:      p.EmbeddingModel,
		dimensions: p.EmbeddingDimensions,
	}, nil
}

func (s *embeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	}

	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) != s.dimensions {
			return nil, fmt.Errorf("model returned %d dimensions, expected %d", len(data.Embedding), s.dimensions)
		}
		vectors[i] = data.Embedding
	}

	return vectors, nil
}

func (s *embeddingService) Dimensions() int {
	return s.dimensions
}

// Validate checks API connectivity with a single embedding request.
// Callers are expected to treat a failure here as fatal at startup; the
// engine never retries a dead model per call.
func Validate(ctx context.Context, svc EmbeddingService) error {
	if _, err := svc.Embed(ctx, "ping"); err != nil {
		return fmt.Errorf("embedding validation failed: %w", err)
	}
	return nil
}
