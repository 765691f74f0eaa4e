package store

import (
	"context"
)

// QueryLog is an append-only record of one retrieval decision. Entries are
// written once per retrieval call and never mutated afterwards.
type QueryLog struct {
	ID      int32
	Query   string
	Context *string
	// SearchText is the combined text that was actually embedded.
	SearchText string
	// Embedding is the query vector; nil when the backend embedded the
	// query internally.
	Embedding           []float32
	ClarificationNeeded bool
	// SelectedJokeID is the top-ranked joke of the call; nil when the
	// search produced no candidates.
	SelectedJokeID *int32
	Score          float32
	CreatedTs      int64
}

// FindQueryLog is the find condition for query logs.
type FindQueryLog struct {
	SelectedJokeID *int32
	Limit          *int
}

// CreateQueryLog appends a query log entry.
func (s *Store) CreateQueryLog(ctx context.Context, create *QueryLog) (*QueryLog, error) {
	return s.driver.CreateQueryLog(ctx, create)
}

// ListQueryLogs lists query log entries, most recent first.
func (s *Store) ListQueryLogs(ctx context.Context, find *FindQueryLog) ([]*QueryLog, error) {
	return s.driver.ListQueryLogs(ctx, find)
}
