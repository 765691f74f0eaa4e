// Package mongo implements the store driver on MongoDB. Jokes live in a
// document collection with their embedding inlined; similarity search scans
// candidates and scores them in process. Unlike the SQL drivers this backend
// holds an embedding client, so it can embed raw query text itself when the
// caller supplies no vector.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mirthlab/jokebox/internal/profile"
	"github.com/mirthlab/jokebox/plugin/ai"
)

const (
	collJoke     = "jokes"
	collTag      = "tags"
	collQueryLog = "query_logs"
	collFeedback = "feedback"
	collCounter  = "counters"
)

// DB is the MongoDB implementation of the store driver.
type DB struct {
	client   *mongo.Client
	database *mongo.Database
	profile  *profile.Profile
	embedder ai.EmbeddingService
}

// NewDB connects to MongoDB using the URI from the profile. The embedder is
// the same instance the engine uses, so text-only searches score identically
// to the vector-passing path.
func NewDB(p *profile.Profile, embedder ai.EmbeddingService) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(p.MongoURI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "failed to ping mongo")
	}
	if embedder == nil {
		return nil, errors.New("mongo driver requires an embedding service")
	}

	return &DB{
		client:   client,
		database: client.Database(p.MongoDatabase),
		profile:  p,
		embedder: embedder,
	}, nil
}

// Close disconnects the client.
func (d *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// IsInitialized reports whether the joke collection exists.
func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	names, err := d.database.ListCollectionNames(ctx, bson.M{"name": collJoke})
	if err != nil {
		return false, errors.Wrap(err, "failed to list collections")
	}
	return len(names) > 0, nil
}

// Migrate ensures the unique indexes the store semantics depend on.
// Index creation is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	jokeIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "uid", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "text", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := d.database.Collection(collJoke).Indexes().CreateMany(ctx, jokeIndexes); err != nil {
		return errors.Wrap(err, "failed to create joke indexes")
	}

	tagIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := d.database.Collection(collTag).Indexes().CreateOne(ctx, tagIndex); err != nil {
		return errors.Wrap(err, "failed to create tag index")
	}

	feedbackIndex := mongo.IndexModel{Keys: bson.D{{Key: "joke_id", Value: 1}}}
	if _, err := d.database.Collection(collFeedback).Indexes().CreateOne(ctx, feedbackIndex); err != nil {
		return errors.Wrap(err, "failed to create feedback index")
	}
	return nil
}

// nextID allocates the next sequential id for a collection from the counters
// collection. Ids stay int32 and monotonic to match the SQL drivers.
func (d *DB) nextID(ctx context.Context, name string) (int32, error) {
	var counter struct {
		Seq int32 `bson:"seq"`
	}
	err := d.database.Collection(collCounter).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to allocate id for %s", name)
	}
	return counter.Seq, nil
}
