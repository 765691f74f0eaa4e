package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mirthlab/jokebox/store"
)

type feedbackDoc struct {
	ID        int32   `bson:"_id"`
	JokeID    int32   `bson:"joke_id"`
	Liked     bool    `bson:"liked"`
	UserID    string  `bson:"user_id"`
	Comment   *string `bson:"comment,omitempty"`
	CreatedTs int64   `bson:"created_ts"`
}

// CreateFeedback appends a feedback entry.
func (d *DB) CreateFeedback(ctx context.Context, create *store.Feedback) (*store.Feedback, error) {
	id, err := d.nextID(ctx, collFeedback)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()

	doc := feedbackDoc{
		ID:        id,
		JokeID:    create.JokeID,
		Liked:     create.Liked,
		UserID:    create.UserID,
		Comment:   create.Comment,
		CreatedTs: now,
	}
	if _, err := d.database.Collection(collFeedback).InsertOne(ctx, doc); err != nil {
		return nil, errors.Wrap(err, "failed to create feedback")
	}

	create.ID = id
	create.CreatedTs = now
	return create, nil
}

// ListFeedback lists feedback entries matching the find condition.
func (d *DB) ListFeedback(ctx context.Context, find *store.FindFeedback) ([]*store.Feedback, error) {
	filter := bson.M{}
	if find.JokeID != nil {
		filter["joke_id"] = *find.JokeID
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	cursor, err := d.database.Collection(collFeedback).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list feedback")
	}
	defer cursor.Close(ctx)

	list := []*store.Feedback{}
	for cursor.Next(ctx) {
		var doc feedbackDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode feedback")
		}
		list = append(list, &store.Feedback{
			ID:        doc.ID,
			JokeID:    doc.JokeID,
			Liked:     doc.Liked,
			UserID:    doc.UserID,
			Comment:   doc.Comment,
			CreatedTs: doc.CreatedTs,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
