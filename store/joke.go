package store

import (
	"context"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	jokeerr "github.com/mirthlab/jokebox/internal/errors"
)

// DefaultCategory is assigned to jokes created without a category.
const DefaultCategory = "general"

// Joke is a single retrievable item of text.
type Joke struct {
	ID       int32
	UID      string
	Text     string
	Category string
	Source   *string

	// Embedding is nil until computed. A joke without an embedding is
	// excluded from similarity search until backfilled.
	Embedding []float32

	CreatedTs int64
	UpdatedTs int64

	// Tags is the full tag set of the joke, unique by name.
	Tags []*Tag
}

// FindJoke is the find condition for jokes.
type FindJoke struct {
	ID   *int32
	UID  *string
	Text *string
}

// UpdateJoke is the update payload for an existing joke.
type UpdateJoke struct {
	ID       int32
	Category *string
	Source   *string
}

// CreateJoke inserts a new joke. The embedding may be attached later with
// UpdateJokeEmbedding; the two-phase sequence is a supported pattern.
func (s *Store) CreateJoke(ctx context.Context, create *Joke) (*Joke, error) {
	if create.Text == "" {
		return nil, jokeerr.InvalidArgument("joke text must not be empty")
	}
	if create.Category == "" {
		create.Category = DefaultCategory
	}
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	if err := s.validateEmbedding(create.Embedding); err != nil {
		return nil, err
	}
	return s.driver.CreateJoke(ctx, create)
}

// GetJoke returns a single joke matching the find condition, or nil when
// no joke matches.
func (s *Store) GetJoke(ctx context.Context, find *FindJoke) (*Joke, error) {
	list, err := s.driver.ListJokes(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListJokes lists jokes matching the find condition.
func (s *Store) ListJokes(ctx context.Context, find *FindJoke) ([]*Joke, error) {
	return s.driver.ListJokes(ctx, find)
}

// UpdateJoke updates an existing joke's mutable attributes.
func (s *Store) UpdateJoke(ctx context.Context, update *UpdateJoke) error {
	return s.driver.UpdateJoke(ctx, update)
}

// UpdateJokeEmbedding attaches or replaces the embedding vector of a joke.
func (s *Store) UpdateJokeEmbedding(ctx context.Context, id int32, embedding []float32) error {
	if len(embedding) == 0 {
		return jokeerr.InvalidArgument("embedding must not be empty")
	}
	if err := s.validateEmbedding(embedding); err != nil {
		return err
	}
	return s.driver.UpdateJokeEmbedding(ctx, id, embedding)
}

// RandomJoke returns a uniformly sampled joke, or nil when the store is empty.
func (s *Store) RandomJoke(ctx context.Context) (*Joke, error) {
	return s.driver.RandomJoke(ctx)
}

// FindJokesWithoutEmbedding finds jokes that still need an embedding
// backfill before they become searchable.
func (s *Store) FindJokesWithoutEmbedding(ctx context.Context, limit int) ([]*Joke, error) {
	return s.driver.FindJokesWithoutEmbedding(ctx, limit)
}

// UpsertJoke creates a joke or, when one with the same text already exists,
// updates its category and source in place. The caller re-attaches the
// embedding and tags afterwards; tag attachment is a full replacement.
func (s *Store) UpsertJoke(ctx context.Context, create *Joke) (*Joke, error) {
	existing, err := s.GetJoke(ctx, &FindJoke{Text: &create.Text})
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up joke by text")
	}
	if existing == nil {
		return s.CreateJoke(ctx, create)
	}

	category := create.Category
	if category == "" {
		category = DefaultCategory
	}
	update := &UpdateJoke{
		ID:       existing.ID,
		Category: &category,
		Source:   create.Source,
	}
	if err := s.driver.UpdateJoke(ctx, update); err != nil {
		return nil, errors.Wrap(err, "failed to update joke")
	}
	existing.Category = category
	existing.Source = create.Source
	return existing, nil
}

func (s *Store) validateEmbedding(embedding []float32) error {
	if embedding == nil {
		return nil
	}
	if len(embedding) != s.profile.EmbeddingDimensions {
		return jokeerr.InvalidArgument("embedding dimension mismatch")
	}
	return nil
}
