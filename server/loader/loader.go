// Package loader imports joke corpora from JSON files. Import is idempotent:
// jokes are upserted by text identity, tag sets are fully replaced, and
// embeddings are backfilled for whatever still lacks one.
package loader

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mirthlab/jokebox/plugin/ai"
	"github.com/mirthlab/jokebox/store"
)

// embedConcurrency bounds parallel embedding requests during import.
const embedConcurrency = 4

// backfillBatch is the page size for draining jokes without an embedding.
const backfillBatch = 100

// JokeRecord is one entry of an import file.
type JokeRecord struct {
	Text     string   `json:"text"`
	Category string   `json:"category,omitempty"`
	Source   *string  `json:"source,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Result summarizes one import run.
type Result struct {
	// Processed is the number of records upserted.
	Processed int
	// Embedded is the number of jokes whose embedding was (re)computed.
	Embedded int
	// Skipped is the number of records dropped for missing text.
	Skipped int
}

// Store is the persistence surface the loader depends on.
type Store interface {
	UpsertJoke(ctx context.Context, create *store.Joke) (*store.Joke, error)
	UpdateJokeEmbedding(ctx context.Context, id int32, embedding []float32) error
	FindJokesWithoutEmbedding(ctx context.Context, limit int) ([]*store.Joke, error)
	ResolveTags(ctx context.Context, names []string) ([]*store.Tag, error)
	SetJokeTags(ctx context.Context, jokeID int32, tags []*store.Tag) error
}

// Loader imports jokes and keeps their embeddings current.
type Loader struct {
	store    Store
	embedder ai.EmbeddingService
}

// New creates a loader.
func New(s Store, embedder ai.EmbeddingService) *Loader {
	return &Loader{store: s, embedder: embedder}
}

// LoadFile reads a JSON array of joke records from disk.
func LoadFile(path string) ([]JokeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var records []JokeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return records, nil
}

// ImportFile loads a JSON file and imports its records.
func (l *Loader) ImportFile(ctx context.Context, path string, regenerate bool) (*Result, error) {
	records, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return l.Import(ctx, records, regenerate)
}

// Import upserts each record by text, replaces tag sets where the record
// carries tags, then embeds. By default only jokes without an embedding are
// embedded; with regenerate every imported joke is re-embedded.
func (l *Loader) Import(ctx context.Context, records []JokeRecord, regenerate bool) (*Result, error) {
	result := &Result{}
	imported := make([]*store.Joke, 0, len(records))

	for _, record := range records {
		if record.Text == "" {
			result.Skipped++
			continue
		}

		joke, err := l.store.UpsertJoke(ctx, &store.Joke{
			Text:     record.Text,
			Category: record.Category,
			Source:   record.Source,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to upsert joke %q", truncate(record.Text))
		}

		if record.Tags != nil {
			tags, err := l.store.ResolveTags(ctx, record.Tags)
			if err != nil {
				return nil, errors.Wrap(err, "failed to resolve tags")
			}
			if err := l.store.SetJokeTags(ctx, joke.ID, tags); err != nil {
				return nil, errors.Wrapf(err, "failed to set tags for joke %d", joke.ID)
			}
		}

		imported = append(imported, joke)
		result.Processed++
	}

	if regenerate {
		embedded, err := l.embedJokes(ctx, imported)
		if err != nil {
			return nil, err
		}
		result.Embedded = embedded
	} else {
		// Drain the whole backlog in fixed-size batches. The backlog may be
		// larger than this import when earlier runs were interrupted.
		for {
			pending, err := l.store.FindJokesWithoutEmbedding(ctx, backfillBatch)
			if err != nil {
				return nil, errors.Wrap(err, "failed to find jokes without embedding")
			}
			if len(pending) == 0 {
				break
			}
			embedded, err := l.embedJokes(ctx, pending)
			if err != nil {
				return nil, err
			}
			result.Embedded += embedded
			if len(pending) < backfillBatch {
				break
			}
		}
	}

	slog.Info("joke import finished",
		slog.Int("processed", result.Processed),
		slog.Int("embedded", result.Embedded),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

// embedJokes computes and attaches embeddings with bounded concurrency.
func (l *Loader) embedJokes(ctx context.Context, jokes []*store.Joke) (int, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for _, joke := range jokes {
		g.Go(func() error {
			embedding, err := l.embedder.Embed(ctx, joke.Text)
			if err != nil {
				return errors.Wrapf(err, "failed to embed joke %d", joke.ID)
			}
			return l.store.UpdateJokeEmbedding(ctx, joke.ID, embedding)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(jokes), nil
}

func truncate(text string) string {
	if len(text) > 50 {
		return text[:50] + "..."
	}
	return text
}
