package db

import (
	"github.com/pkg/errors"

	"github.com/mirthlab/jokebox/internal/profile"
	"github.com/mirthlab/jokebox/plugin/ai"
	"github.com/mirthlab/jokebox/store"
	"github.com/mirthlab/jokebox/store/db/mongo"
	"github.com/mirthlab/jokebox/store/db/postgres"
	"github.com/mirthlab/jokebox/store/db/sqlite"
)

// NewDBDriver creates new db driver based on profile.
//
// PostgreSQL: production backend with a native pgvector index.
// Mongo: external document-vector collection; embeds query text with the
// shared embedder when no vector is supplied.
// SQLite: development/testing backend; similarity is computed in process.
func NewDBDriver(profile *profile.Profile, embedder ai.EmbeddingService) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "mongo":
		driver, err = mongo.NewDB(profile, embedder)
	default:
		return nil, errors.New("unknown db driver: only 'postgres', 'sqlite' and 'mongo' are supported")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
