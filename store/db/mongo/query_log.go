package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mirthlab/jokebox/store"
)

type queryLogDoc struct {
	ID                  int32     `bson:"_id"`
	Query               string    `bson:"query"`
	Context             *string   `bson:"context,omitempty"`
	SearchText          string    `bson:"search_text"`
	Embedding           []float32 `bson:"embedding,omitempty"`
	ClarificationNeeded bool      `bson:"clarification_needed"`
	SelectedJokeID      *int32    `bson:"selected_joke_id,omitempty"`
	Score               float32   `bson:"score"`
	CreatedTs           int64     `bson:"created_ts"`
}

// CreateQueryLog appends a query log entry.
func (d *DB) CreateQueryLog(ctx context.Context, create *store.QueryLog) (*store.QueryLog, error) {
	id, err := d.nextID(ctx, collQueryLog)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()

	doc := queryLogDoc{
		ID:                  id,
		Query:               create.Query,
		Context:             create.Context,
		SearchText:          create.SearchText,
		Embedding:           create.Embedding,
		ClarificationNeeded: create.ClarificationNeeded,
		SelectedJokeID:      create.SelectedJokeID,
		Score:               create.Score,
		CreatedTs:           now,
	}
	if _, err := d.database.Collection(collQueryLog).InsertOne(ctx, doc); err != nil {
		return nil, errors.Wrap(err, "failed to create query log")
	}

	create.ID = id
	create.CreatedTs = now
	return create, nil
}

// ListQueryLogs lists query log entries, most recent first.
func (d *DB) ListQueryLogs(ctx context.Context, find *store.FindQueryLog) ([]*store.QueryLog, error) {
	filter := bson.M{}
	if find.SelectedJokeID != nil {
		filter["selected_joke_id"] = *find.SelectedJokeID
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if find.Limit != nil {
		opts.SetLimit(int64(*find.Limit))
	}
	cursor, err := d.database.Collection(collQueryLog).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list query logs")
	}
	defer cursor.Close(ctx)

	list := []*store.QueryLog{}
	for cursor.Next(ctx) {
		var doc queryLogDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode query log")
		}
		list = append(list, &store.QueryLog{
			ID:                  doc.ID,
			Query:               doc.Query,
			Context:             doc.Context,
			SearchText:          doc.SearchText,
			Embedding:           doc.Embedding,
			ClarificationNeeded: doc.ClarificationNeeded,
			SelectedJokeID:      doc.SelectedJokeID,
			Score:               doc.Score,
			CreatedTs:           doc.CreatedTs,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
