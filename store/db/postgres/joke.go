package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/mirthlab/jokebox/store"
)

// CreateJoke inserts a new joke. The embedding may be nil; it is attached
// later with UpdateJokeEmbedding.
func (d *DB) CreateJoke(ctx context.Context, create *store.Joke) (*store.Joke, error) {
	now := time.Now().Unix()

	var embedding any
	if create.Embedding != nil {
		embedding = pgvector.NewVector(create.Embedding)
	}

	stmt := `
		INSERT INTO joke (uid, text, category, source, embedding, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		RETURNING id
	`
	err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.Text,
		create.Category,
		create.Source,
		embedding,
		now,
		now,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create joke")
	}

	create.CreatedTs = now
	create.UpdatedTs = now
	return create, nil
}

// ListJokes lists jokes matching the find condition, including their tags.
// The embedding column is not loaded; it only flows back into search.
func (d *DB) ListJokes(ctx context.Context, find *store.FindJoke) ([]*store.Joke, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.Text != nil {
		where, args = append(where, "text = "+placeholder(len(args)+1)), append(args, *find.Text)
	}

	query := `
		SELECT id, uid, text, category, source, created_ts, updated_ts
		FROM joke
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jokes")
	}
	defer rows.Close()

	list := []*store.Joke{}
	for rows.Next() {
		joke, err := scanJoke(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, joke)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, joke := range list {
		tags, err := d.listTagsByJokeID(ctx, joke.ID)
		if err != nil {
			return nil, err
		}
		joke.Tags = tags
	}
	return list, nil
}

// UpdateJoke updates the mutable attributes of a joke.
func (d *DB) UpdateJoke(ctx context.Context, update *store.UpdateJoke) error {
	set, args := []string{}, []any{}
	if update.Category != nil {
		set, args = append(set, "category = "+placeholder(len(args)+1)), append(args, *update.Category)
	}
	if update.Source != nil {
		set, args = append(set, "source = "+placeholder(len(args)+1)), append(args, *update.Source)
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())

	stmt := `UPDATE joke SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)+1)
	args = append(args, update.ID)
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update joke")
	}
	return nil
}

// UpdateJokeEmbedding attaches or replaces the embedding vector of a joke.
func (d *DB) UpdateJokeEmbedding(ctx context.Context, id int32, embedding []float32) error {
	stmt := `UPDATE joke SET embedding = $1, updated_ts = $2 WHERE id = $3`
	result, err := d.db.ExecContext(ctx, stmt, pgvector.NewVector(embedding), time.Now().Unix(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update joke embedding")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Errorf("joke %d not found", id)
	}
	return nil
}

// RandomJoke returns a uniformly sampled joke, or nil when the table is empty.
func (d *DB) RandomJoke(ctx context.Context) (*store.Joke, error) {
	query := `
		SELECT id, uid, text, category, source, created_ts, updated_ts
		FROM joke
		ORDER BY RANDOM()
		LIMIT 1
	`
	row := d.db.QueryRowContext(ctx, query)
	joke, err := scanJoke(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	tags, err := d.listTagsByJokeID(ctx, joke.ID)
	if err != nil {
		return nil, err
	}
	joke.Tags = tags
	return joke, nil
}

// SearchJokes performs vector similarity search using pgvector.
// The <=> operator computes cosine distance (1 - cosine_similarity), so the
// query orders by distance ascending and converts back to similarity.
// Jokes without an embedding are excluded until backfilled.
func (d *DB) SearchJokes(ctx context.Context, opts *store.SearchJokesOptions) ([]*store.JokeWithScore, error) {
	if opts.Vector == nil {
		return nil, errors.New("postgres driver requires a precomputed query vector")
	}

	query := `
		SELECT
			j.id, j.uid, j.text, j.category, j.source, j.created_ts, j.updated_ts,
			1 - (j.embedding <=> $1) AS score
		FROM joke j
		WHERE j.embedding IS NOT NULL
		ORDER BY j.embedding <=> $2, j.id
		LIMIT $3
	`
	vector := pgvector.NewVector(opts.Vector)
	rows, err := d.db.QueryContext(ctx, query, vector, vector, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search jokes")
	}
	defer rows.Close()

	results := []*store.JokeWithScore{}
	for rows.Next() {
		var result store.JokeWithScore
		var joke store.Joke
		err := rows.Scan(
			&joke.ID,
			&joke.UID,
			&joke.Text,
			&joke.Category,
			&joke.Source,
			&joke.CreatedTs,
			&joke.UpdatedTs,
			&result.Score,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		result.Joke = &joke
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, result := range results {
		tags, err := d.listTagsByJokeID(ctx, result.Joke.ID)
		if err != nil {
			return nil, err
		}
		result.Joke.Tags = tags
	}
	return results, nil
}

// FindJokesWithoutEmbedding finds jokes whose embedding has not been
// computed yet, oldest first.
func (d *DB) FindJokesWithoutEmbedding(ctx context.Context, limit int) ([]*store.Joke, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, uid, text, category, source, created_ts, updated_ts
		FROM joke
		WHERE embedding IS NULL
		ORDER BY id
		LIMIT $1
	`
	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find jokes without embedding")
	}
	defer rows.Close()

	list := []*store.Joke{}
	for rows.Next() {
		joke, err := scanJoke(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, joke)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJoke(row rowScanner) (*store.Joke, error) {
	var joke store.Joke
	err := row.Scan(
		&joke.ID,
		&joke.UID,
		&joke.Text,
		&joke.Category,
		&joke.Source,
		&joke.CreatedTs,
		&joke.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan joke")
	}
	return &joke, nil
}
