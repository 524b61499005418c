package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store over a MongoDB database. Batches run inside a
// multi-document transaction, which needs a replica set or sharded cluster.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (Record, error) {
	var m bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{IDField: id}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, err
	}
	return Record(plainMap(m)), nil
}

func (s *MongoStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Record, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, mongoFilter(filters), options.Find().SetSort(bson.M{IDField: 1}))
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Record, len(docs))
	for i, d := range docs {
		out[i] = Record(plainMap(d))
	}
	return out, nil
}

// mongoFilter ANDs the filters. Conditions on distinct fields share one document;
// a field named more than once moves every condition under $and so none is lost.
func mongoFilter(filters []Filter) bson.M {
	conds := make([]bson.M, 0, len(filters))
	seen := make(map[string]bool, len(filters))
	repeated := false
	for _, f := range filters {
		if seen[f.Field] {
			repeated = true
		}
		seen[f.Field] = true
		conds = append(conds, bson.M{f.Field: mongoCondition(f)})
	}
	if repeated {
		return bson.M{"$and": conds}
	}
	filter := bson.M{}
	for _, c := range conds {
		for k, v := range c {
			filter[k] = v
		}
	}
	return filter
}

func mongoCondition(f Filter) any {
	if f.Op == OpIn {
		return bson.M{"$in": f.Values}
	}
	return f.Values[0]
}

func (s *MongoStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	doc := withID(fields, id)
	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{IDField: id}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) UpdateIf(ctx context.Context, collection, id string, expect, fields map[string]any) error {
	filter := bson.M{IDField: id}
	for k, v := range expect {
		filter[k] = v
	}
	coll := s.db.Collection(collection)
	res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": withoutID(fields)})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := coll.CountDocuments(ctx, bson.M{IDField: id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return fmt.Errorf("%s/%s: %w", collection, id, ErrConflict)
}

func (s *MongoStore) Batch(ctx context.Context, ops []Op) error {
	if len(ops) > MaxBatchOps {
		return ErrBatchTooLarge
	}
	if len(ops) == 0 {
		return nil
	}
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, op := range ops {
			coll := s.db.Collection(op.Collection)
			if op.Kind == OpSet {
				doc := withID(op.Fields, op.ID)
				if _, err := coll.ReplaceOne(sc, bson.M{IDField: op.ID}, doc, options.Replace().SetUpsert(true)); err != nil {
					return nil, err
				}
				continue
			}
			res, err := coll.UpdateOne(sc, bson.M{IDField: op.ID}, bson.M{"$set": withoutID(op.Fields)})
			if err != nil {
				return nil, err
			}
			if res.MatchedCount == 0 {
				return nil, fmt.Errorf("%s/%s: %w", op.Collection, op.ID, ErrNotFound)
			}
		}
		return nil, nil
	})
	return err
}

func withID(fields map[string]any, id string) bson.M {
	doc := bson.M{}
	for k, v := range fields {
		doc[k] = v
	}
	doc[IDField] = id
	return doc
}

func withoutID(fields map[string]any) bson.M {
	doc := bson.M{}
	for k, v := range fields {
		if k != IDField {
			doc[k] = v
		}
	}
	return doc
}
