package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/mirthlab/jokebox/store"
)

// CreateQueryLog appends a query log entry.
func (d *DB) CreateQueryLog(ctx context.Context, create *store.QueryLog) (*store.QueryLog, error) {
	now := time.Now().Unix()

	var embedding any
	if create.Embedding != nil {
		embedding = pgvector.NewVector(create.Embedding)
	}

	stmt := `
		INSERT INTO query_log (query, context, search_text, embedding, clarification_needed, selected_joke_id, score, created_ts)
		VALUES (` + placeholders(8) + `)
		RETURNING id
	`
	err := d.db.QueryRowContext(ctx, stmt,
		create.Query,
		create.Context,
		create.SearchText,
		embedding,
		create.ClarificationNeeded,
		create.SelectedJokeID,
		create.Score,
		now,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create query log")
	}

	create.CreatedTs = now
	return create, nil
}

// ListQueryLogs lists query log entries, most recent first.
func (d *DB) ListQueryLogs(ctx context.Context, find *store.FindQueryLog) ([]*store.QueryLog, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.SelectedJokeID != nil {
		where, args = append(where, "selected_joke_id = "+placeholder(len(args)+1)), append(args, *find.SelectedJokeID)
	}

	query := `
		SELECT id, query, context, search_text, clarification_needed, selected_joke_id, score, created_ts
		FROM query_log
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id DESC
	`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list query logs")
	}
	defer rows.Close()

	list := []*store.QueryLog{}
	for rows.Next() {
		var log store.QueryLog
		err := rows.Scan(
			&log.ID,
			&log.Query,
			&log.Context,
			&log.SearchText,
			&log.ClarificationNeeded,
			&log.SelectedJokeID,
			&log.Score,
			&log.CreatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan query log")
		}
		list = append(list, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
