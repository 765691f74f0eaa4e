package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/mirthlab/jokebox/store"
)

// UpsertTag finds or creates a tag by exact name. The ON CONFLICT clause
// makes concurrent resolves of the same name converge on a single row.
func (d *DB) UpsertTag(ctx context.Context, name string) (*store.Tag, error) {
	stmt := `
		INSERT INTO tag (name)
		VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`
	tag := &store.Tag{Name: name}
	if err := d.db.QueryRowContext(ctx, stmt, name).Scan(&tag.ID); err != nil {
		return nil, errors.Wrap(err, "failed to upsert tag")
	}
	return tag, nil
}

// ListTags lists tags matching the find condition.
func (d *DB) ListTags(ctx context.Context, find *store.FindTag) ([]*store.Tag, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Name != nil {
		where, args = append(where, "name = "+placeholder(len(args)+1)), append(args, *find.Name)
	}

	query := `
		SELECT id, name
		FROM tag
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY name
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tags")
	}
	defer rows.Close()

	list := []*store.Tag{}
	for rows.Next() {
		var tag store.Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return nil, errors.Wrap(err, "failed to scan tag")
		}
		list = append(list, &tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// SetJokeTags replaces the tag set of a joke inside one transaction, so a
// concurrent searcher never observes a half-replaced set.
func (d *DB) SetJokeTags(ctx context.Context, jokeID int32, tagIDs []int32) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM joke_tag WHERE joke_id = $1`, jokeID); err != nil {
		return errors.Wrap(err, "failed to clear joke tags")
	}
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO joke_tag (joke_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			jokeID, tagID,
		); err != nil {
			return errors.Wrap(err, "failed to attach joke tag")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit joke tags")
	}
	return nil
}

func (d *DB) listTagsByJokeID(ctx context.Context, jokeID int32) ([]*store.Tag, error) {
	query := `
		SELECT t.id, t.name
		FROM tag t
		JOIN joke_tag jt ON t.id = jt.tag_id
		WHERE jt.joke_id = $1
		ORDER BY t.name
	`
	rows, err := d.db.QueryContext(ctx, query, jokeID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list joke tags")
	}
	defer rows.Close()

	list := []*store.Tag{}
	for rows.Next() {
		var tag store.Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return nil, errors.Wrap(err, "failed to scan tag")
		}
		list = append(list, &tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
