package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mirthlab/jokebox/store"
)

// CreateJoke inserts a new joke. The embedding may be nil; it is attached
// later with UpdateJokeEmbedding.
func (d *DB) CreateJoke(ctx context.Context, create *store.Joke) (*store.Joke, error) {
	now := time.Now().Unix()

	embedding, err := marshalEmbedding(create.Embedding)
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO joke (uid, text, category, source, embedding, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err = d.db.QueryRowContext(ctx, stmt,
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
func (d *DB) ListJokes(ctx context.Context, find *store.FindJoke) ([]*store.Joke, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.Text != nil {
		where, args = append(where, "text = ?"), append(args, *find.Text)
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
		set, args = append(set, "category = ?"), append(args, *update.Category)
	}
	if update.Source != nil {
		set, args = append(set, "source = ?"), append(args, *update.Source)
	}
	set, args = append(set, "updated_ts = ?"), append(args, time.Now().Unix())

	stmt := `UPDATE joke SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	args = append(args, update.ID)
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update joke")
	}
	return nil
}

// UpdateJokeEmbedding attaches or replaces the embedding vector of a joke.
func (d *DB) UpdateJokeEmbedding(ctx context.Context, id int32, embedding []float32) error {
	encoded, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}

	stmt := `UPDATE joke SET embedding = ?, updated_ts = ? WHERE id = ?`
	result, err := d.db.ExecContext(ctx, stmt, encoded, time.Now().Unix(), id)
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

// SearchJokes scores every embedded joke against the query vector in Go.
// SQLite has no vector index, so this is a full scan; fine for the small
// corpora this driver is meant for.
func (d *DB) SearchJokes(ctx context.Context, opts *store.SearchJokesOptions) ([]*store.JokeWithScore, error) {
	if opts.Vector == nil {
		return nil, errors.New("sqlite driver requires a precomputed query vector")
	}

	query := `
		SELECT id, uid, text, category, source, embedding, created_ts, updated_ts
		FROM joke
		WHERE embedding IS NOT NULL
	`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search jokes")
	}
	defer rows.Close()

	results := []*store.JokeWithScore{}
	for rows.Next() {
		var joke store.Joke
		var encoded string
		err := rows.Scan(
			&joke.ID,
			&joke.UID,
			&joke.Text,
			&joke.Category,
			&joke.Source,
			&encoded,
			&joke.CreatedTs,
			&joke.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		embedding, err := unmarshalEmbedding(encoded)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.JokeWithScore{
			Joke:  &joke,
			Score: store.CosineSimilarity(opts.Vector, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Joke.ID < results[j].Joke.ID
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
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
		LIMIT ?
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

func marshalEmbedding(embedding []float32) (any, error) {
	if embedding == nil {
		return nil, nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode embedding")
	}
	return string(data), nil
}

func unmarshalEmbedding(encoded string) ([]float32, error) {
	var embedding []float32
	if err := json.Unmarshal([]byte(encoded), &embedding); err != nil {
		return nil, errors.Wrap(err, "failed to decode embedding")
	}
	return embedding, nil
}
