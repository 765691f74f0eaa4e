package store

import (
	"context"
)

// Driver is an interface for store driver.
// It contains all methods that a storage backend should implement. The two
// production backends (postgres with a native vector index, mongo as an
// external document-vector collection) and the sqlite dev backend must all
// satisfy identical ranking semantics; the normalization in Store.SearchJokes
// enforces the ordering and score range on top of whatever the backend
// returns natively.
type Driver interface {
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	Migrate(ctx context.Context) error

	// Joke model related methods.
	CreateJoke(ctx context.Context, create *Joke) (*Joke, error)
	ListJokes(ctx context.Context, find *FindJoke) ([]*Joke, error)
	UpdateJoke(ctx context.Context, update *UpdateJoke) error
	UpdateJokeEmbedding(ctx context.Context, id int32, embedding []float32) error
	RandomJoke(ctx context.Context) (*Joke, error)
	FindJokesWithoutEmbedding(ctx context.Context, limit int) ([]*Joke, error)

	// SearchJokes performs similarity search by vector, or by raw text for
	// backends that embed queries themselves. Scores are cosine similarity;
	// drivers whose native metric is cosine distance convert with
	// similarity = 1 - distance before returning.
	SearchJokes(ctx context.Context, opts *SearchJokesOptions) ([]*JokeWithScore, error)

	// Tag model related methods.
	UpsertTag(ctx context.Context, name string) (*Tag, error)
	ListTags(ctx context.Context, find *FindTag) ([]*Tag, error)
	SetJokeTags(ctx context.Context, jokeID int32, tagIDs []int32) error

	// QueryLog model related methods.
	CreateQueryLog(ctx context.Context, create *QueryLog) (*QueryLog, error)
	ListQueryLogs(ctx context.Context, find *FindQueryLog) ([]*QueryLog, error)

	// Feedback model related methods.
	CreateFeedback(ctx context.Context, create *Feedback) (*Feedback, error)
	ListFeedback(ctx context.Context, find *FindFeedback) ([]*Feedback, error)
}
