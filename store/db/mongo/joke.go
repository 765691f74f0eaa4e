package mongo

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mirthlab/jokebox/store"
)

type jokeDoc struct {
	ID        int32     `bson:"_id"`
	UID       string    `bson:"uid"`
	Text      string    `bson:"text"`
	Category  string    `bson:"category"`
	Source    *string   `bson:"source,omitempty"`
	Embedding []float32 `bson:"embedding,omitempty"`
	TagIDs    []int32   `bson:"tag_ids,omitempty"`
	CreatedTs int64     `bson:"created_ts"`
	UpdatedTs int64     `bson:"updated_ts"`
}

func (doc *jokeDoc) toJoke() *store.Joke {
	return &store.Joke{
		ID:        doc.ID,
		UID:       doc.UID,
		Text:      doc.Text,
		Category:  doc.Category,
		Source:    doc.Source,
		CreatedTs: doc.CreatedTs,
		UpdatedTs: doc.UpdatedTs,
	}
}

// CreateJoke inserts a new joke document. The embedding may be nil; it is
// attached later with UpdateJokeEmbedding.
func (d *DB) CreateJoke(ctx context.Context, create *store.Joke) (*store.Joke, error) {
	id, err := d.nextID(ctx, collJoke)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()

	doc := jokeDoc{
		ID:        id,
		UID:       create.UID,
		Text:      create.Text,
		Category:  create.Category,
		Source:    create.Source,
		Embedding: create.Embedding,
		CreatedTs: now,
		UpdatedTs: now,
	}
	if _, err := d.database.Collection(collJoke).InsertOne(ctx, doc); err != nil {
		return nil, errors.Wrap(err, "failed to create joke")
	}

	create.ID = id
	create.CreatedTs = now
	create.UpdatedTs = now
	return create, nil
}

// ListJokes lists jokes matching the find condition, including their tags.
func (d *DB) ListJokes(ctx context.Context, find *store.FindJoke) ([]*store.Joke, error) {
	filter := bson.M{}
	if find.ID != nil {
		filter["_id"] = *find.ID
	}
	if find.UID != nil {
		filter["uid"] = *find.UID
	}
	if find.Text != nil {
		filter["text"] = *find.Text
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"embedding": 0})
	cursor, err := d.database.Collection(collJoke).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jokes")
	}
	defer cursor.Close(ctx)

	list := []*store.Joke{}
	for cursor.Next(ctx) {
		var doc jokeDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode joke")
		}
		joke := doc.toJoke()
		tags, err := d.listTagsByIDs(ctx, doc.TagIDs)
		if err != nil {
			return nil, err
		}
		joke.Tags = tags
		list = append(list, joke)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateJoke updates the mutable attributes of a joke.
func (d *DB) UpdateJoke(ctx context.Context, update *store.UpdateJoke) error {
	set := bson.M{"updated_ts": time.Now().Unix()}
	if update.Category != nil {
		set["category"] = *update.Category
	}
	if update.Source != nil {
		set["source"] = *update.Source
	}

	_, err := d.database.Collection(collJoke).UpdateOne(ctx,
		bson.M{"_id": update.ID}, bson.M{"$set": set})
	if err != nil {
		return errors.Wrap(err, "failed to update joke")
	}
	return nil
}

// UpdateJokeEmbedding attaches or replaces the embedding vector of a joke.
func (d *DB) UpdateJokeEmbedding(ctx context.Context, id int32, embedding []float32) error {
	result, err := d.database.Collection(collJoke).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"embedding": embedding, "updated_ts": time.Now().Unix()}})
	if err != nil {
		return errors.Wrap(err, "failed to update joke embedding")
	}
	if result.MatchedCount == 0 {
		return errors.Errorf("joke %d not found", id)
	}
	return nil
}

// RandomJoke returns a uniformly sampled joke, or nil when the collection
// is empty.
func (d *DB) RandomJoke(ctx context.Context) (*store.Joke, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sample", Value: bson.M{"size": 1}}},
	}
	cursor, err := d.database.Collection(collJoke).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sample joke")
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	var doc jokeDoc
	if err := cursor.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode joke")
	}

	joke := doc.toJoke()
	tags, err := d.listTagsByIDs(ctx, doc.TagIDs)
	if err != nil {
		return nil, err
	}
	joke.Tags = tags
	return joke, nil
}

// SearchJokes scores embedded jokes against the query vector in process.
// When no vector is supplied the driver embeds the raw text itself with its
// own embedding client.
func (d *DB) SearchJokes(ctx context.Context, opts *store.SearchJokesOptions) ([]*store.JokeWithScore, error) {
	vector := opts.Vector
	if vector == nil {
		if opts.Text == "" {
			return nil, errors.New("search requires a vector or text")
		}
		embedded, err := d.embedder.Embed(ctx, opts.Text)
		if err != nil {
			return nil, errors.Wrap(err, "failed to embed query text")
		}
		vector = embedded
	}

	filter := bson.M{"embedding": bson.M{"$exists": true}}
	cursor, err := d.database.Collection(collJoke).Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search jokes")
	}
	defer cursor.Close(ctx)

	results := []*store.JokeWithScore{}
	for cursor.Next(ctx) {
		var doc jokeDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode joke")
		}
		joke := doc.toJoke()
		tags, err := d.listTagsByIDs(ctx, doc.TagIDs)
		if err != nil {
			return nil, err
		}
		joke.Tags = tags
		results = append(results, &store.JokeWithScore{
			Joke:  joke,
			Score: store.CosineSimilarity(vector, doc.Embedding),
		})
	}
	if err := cursor.Err(); err != nil {
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
	return results, nil
}

// FindJokesWithoutEmbedding finds jokes whose embedding has not been
// computed yet, oldest first.
func (d *DB) FindJokesWithoutEmbedding(ctx context.Context, limit int) ([]*store.Joke, error) {
	if limit <= 0 {
		limit = 100
	}

	filter := bson.M{"embedding": bson.M{"$exists": false}}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := d.database.Collection(collJoke).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find jokes without embedding")
	}
	defer cursor.Close(ctx)

	list := []*store.Joke{}
	for cursor.Next(ctx) {
		var doc jokeDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode joke")
		}
		list = append(list, doc.toJoke())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
