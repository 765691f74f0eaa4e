package store

import (
	"context"

	jokeerr "github.com/mirthlab/jokebox/internal/errors"
)

// AnonymousUserID is recorded when feedback carries no user identifier.
const AnonymousUserID = "anonymous"

// Feedback is an append-only like/dislike signal tied to a joke. Entries are
// never mutated or deleted.
type Feedback struct {
	ID        int32
	JokeID    int32
	Liked     bool
	UserID    string
	Comment   *string
	CreatedTs int64
}

// FindFeedback is the find condition for feedback entries.
type FindFeedback struct {
	JokeID *int32
}

// CreateFeedback appends a feedback entry. Feedback referencing a joke that
// does not exist is rejected with NOT_FOUND and nothing is recorded.
func (s *Store) CreateFeedback(ctx context.Context, create *Feedback) (*Feedback, error) {
	joke, err := s.GetJoke(ctx, &FindJoke{ID: &create.JokeID})
	if err != nil {
		return nil, err
	}
	if joke == nil {
		return nil, jokeerr.NotFoundf("joke %d not found", create.JokeID)
	}

	if create.UserID == "" {
		create.UserID = AnonymousUserID
	}
	return s.driver.CreateFeedback(ctx, create)
}

// ListFeedback lists feedback entries matching the find condition.
func (s *Store) ListFeedback(ctx context.Context, find *FindFeedback) ([]*Feedback, error) {
	return s.driver.ListFeedback(ctx, find)
}
