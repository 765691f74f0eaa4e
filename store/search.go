package store

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/mirthlab/jokebox/internal/observability"
)

// SearchJokesOptions represents the options for similarity search.
type SearchJokesOptions struct {
	// Text is the raw search text. Backends that own their own embedding
	// model use it directly when Vector is nil.
	Text string
	// Vector is the precomputed query vector.
	Vector []float32
	// Limit is the maximum number of results (k).
	Limit int
}

// JokeWithScore represents a similarity search result.
type JokeWithScore struct {
	Joke *Joke
	// Score is cosine similarity rescaled to [0, 1].
	Score float32
}

// SearchJokes performs a top-k similarity search. The result is ordered by
// descending score with ties broken by ascending joke id, and every score is
// clamped to [0, 1], regardless of which driver produced it.
//
// Any driver error degrades to an empty result: callers treat "no
// candidates" uniformly whether caused by an empty store or a transient
// failure. The error is logged here and never retried.
func (s *Store) SearchJokes(ctx context.Context, opts *SearchJokesOptions) []*JokeWithScore {
	if opts.Limit <= 0 {
		opts.Limit = 1
	}

	results, err := s.driver.SearchJokes(ctx, opts)
	if err != nil {
		if reqCtx, ok := observability.FromContext(ctx); ok {
			reqCtx.Warn("joke search failed, returning no candidates",
				slog.String(observability.LogFieldDriver, s.profile.Driver),
				slog.String("error", err.Error()))
		} else {
			slog.Warn("joke search failed, returning no candidates",
				slog.String(observability.LogFieldDriver, s.profile.Driver),
				slog.String("error", err.Error()))
		}
		return []*JokeWithScore{}
	}

	for _, result := range results {
		result.Score = clampScore(result.Score)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Joke.ID < results[j].Joke.ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

// CosineSimilarity computes cosine similarity between two vectors, rescaled
// to [0, 1]. Used by drivers without a native vector metric (sqlite, mongo);
// a zero vector or a length mismatch scores 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	// Cosine is [-1, 1]; rescale so 1.0 = identical direction and
	// 0.0 = orthogonal or opposite.
	return clampScore(float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))))
}

// clampScore clips floating-point and metric artifacts into [0, 1].
func clampScore(score float32) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
