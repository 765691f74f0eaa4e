package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mirthlab/jokebox/store"
)

type tagDoc struct {
	ID   int32  `bson:"_id"`
	Name string `bson:"name"`
}

// UpsertTag finds or creates a tag by exact name. The unique index on name
// resolves a concurrent insert race; the loser retries as a lookup.
func (d *DB) UpsertTag(ctx context.Context, name string) (*store.Tag, error) {
	coll := d.database.Collection(collTag)

	var doc tagDoc
	err := coll.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if err == nil {
		return &store.Tag{ID: doc.ID, Name: doc.Name}, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrap(err, "failed to find tag")
	}

	id, err := d.nextID(ctx, collTag)
	if err != nil {
		return nil, err
	}
	doc = tagDoc{ID: id, Name: name}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if err := coll.FindOne(ctx, bson.M{"name": name}).Decode(&doc); err != nil {
				return nil, errors.Wrap(err, "failed to find tag after duplicate insert")
			}
			return &store.Tag{ID: doc.ID, Name: doc.Name}, nil
		}
		return nil, errors.Wrap(err, "failed to create tag")
	}
	return &store.Tag{ID: doc.ID, Name: doc.Name}, nil
}

// ListTags lists tags matching the find condition.
func (d *DB) ListTags(ctx context.Context, find *store.FindTag) ([]*store.Tag, error) {
	filter := bson.M{}
	if find.ID != nil {
		filter["_id"] = *find.ID
	}
	if find.Name != nil {
		filter["name"] = *find.Name
	}

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := d.database.Collection(collTag).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tags")
	}
	defer cursor.Close(ctx)

	list := []*store.Tag{}
	for cursor.Next(ctx) {
		var doc tagDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode tag")
		}
		list = append(list, &store.Tag{ID: doc.ID, Name: doc.Name})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// SetJokeTags replaces the tag set of a joke. The tag ids live inline on the
// joke document, so replacement is a single atomic update.
func (d *DB) SetJokeTags(ctx context.Context, jokeID int32, tagIDs []int32) error {
	result, err := d.database.Collection(collJoke).UpdateOne(ctx,
		bson.M{"_id": jokeID},
		bson.M{"$set": bson.M{"tag_ids": tagIDs, "updated_ts": time.Now().Unix()}})
	if err != nil {
		return errors.Wrap(err, "failed to set joke tags")
	}
	if result.MatchedCount == 0 {
		return errors.Errorf("joke %d not found", jokeID)
	}
	return nil
}

func (d *DB) listTagsByIDs(ctx context.Context, tagIDs []int32) ([]*store.Tag, error) {
	if len(tagIDs) == 0 {
		return []*store.Tag{}, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := d.database.Collection(collTag).Find(ctx,
		bson.M{"_id": bson.M{"$in": tagIDs}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list joke tags")
	}
	defer cursor.Close(ctx)

	list := []*store.Tag{}
	for cursor.Next(ctx) {
		var doc tagDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode tag")
		}
		list = append(list, &store.Tag{ID: doc.ID, Name: doc.Name})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
