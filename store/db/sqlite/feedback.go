package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mirthlab/jokebox/store"
)

// CreateFeedback appends a feedback entry.
func (d *DB) CreateFeedback(ctx context.Context, create *store.Feedback) (*store.Feedback, error) {
	now := time.Now().Unix()

	stmt := `
		INSERT INTO feedback (joke_id, liked, user_id, comment, created_ts)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	err := d.db.QueryRowContext(ctx, stmt,
		create.JokeID,
		create.Liked,
		create.UserID,
		create.Comment,
		now,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create feedback")
	}

	create.CreatedTs = now
	return create, nil
}

// ListFeedback lists feedback entries matching the find condition.
func (d *DB) ListFeedback(ctx context.Context, find *store.FindFeedback) ([]*store.Feedback, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.JokeID != nil {
		where, args = append(where, "joke_id = ?"), append(args, *find.JokeID)
	}

	query := `
		SELECT id, joke_id, liked, user_id, comment, created_ts
		FROM feedback
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id DESC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list feedback")
	}
	defer rows.Close()

	list := []*store.Feedback{}
	for rows.Next() {
		var feedback store.Feedback
		err := rows.Scan(
			&feedback.ID,
			&feedback.JokeID,
			&feedback.Liked,
			&feedback.UserID,
			&feedback.Comment,
			&feedback.CreatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan feedback")
		}
		list = append(list, &feedback)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
