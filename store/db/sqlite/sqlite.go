// Package sqlite implements the store driver on plain SQLite. It has no
// native vector type; embeddings are stored as JSON arrays and similarity
// search scans the corpus in Go. Intended for development and tests, where
// corpora are small enough for a full scan.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/mirthlab/jokebox/internal/profile"
)

//go:embed schema.sql
var schema string

// DB is the SQLite implementation of the store driver.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a SQLite database at the DSN from the profile.
func NewDB(p *profile.Profile) (*DB, error) {
	if p.DSN == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("sqlite", p.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", p.DSN)
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	return &DB{db: db, profile: p}, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// IsInitialized reports whether the schema has been applied.
func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var name string
	err := d.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'joke'`,
	).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to check schema")
	}
	return true, nil
}

// Migrate applies the embedded schema. All statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}
