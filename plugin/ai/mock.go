package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockEmbeddingService is a deterministic, offline EmbeddingService used in
// tests and dev mode. Each token contributes a hashed one-hot component, so
// identical texts map to identical vectors and texts sharing words score
// higher than unrelated ones.
type MockEmbeddingService struct {
	dimensions int
}

// NewMockEmbeddingService creates a mock embedder with the given dimension.
func NewMockEmbeddingService(dimensions int) *MockEmbeddingService {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbeddingService{dimensions: dimensions}
}

func (m *MockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, m.dimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vector[int(h.Sum32())%m.dimensions] += 1.0
	}

	// L2-normalize so cosine similarity behaves like the real model.
	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}

func (m *MockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (m *MockEmbeddingService) Dimensions() int {
	return m.dimensions
}
