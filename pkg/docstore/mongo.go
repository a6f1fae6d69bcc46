package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/retry"
)

// translateFilter rewrites the query DSL's non-Mongo operators
// ($contains, $startsWith, $empty — see pkg/query's FilterNode) into
// their Mongo equivalents before a filter reaches the driver. Every
// other key passes through untouched, since $eq/$ne/$gt/$lt/$in/
// $exists/$and/$or/$not are already valid Mongo operators.
func translateFilter(f Filter) bson.M {
	out := bson.M{}
	for k, v := range f {
		out[k] = translateFilterValue(v)
	}
	return out
}

func translateFilterValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return translateOpMap(val)
	case []Filter:
		out := make([]bson.M, len(val))
		for i, c := range val {
			out[i] = translateFilter(c)
		}
		return out
	default:
		return v
	}
}

// translateOpMap handles one field's operator map, e.g.
// {"$contains": "foo"} or {"$eq": 1}.
func translateOpMap(m map[string]any) bson.M {
	out := bson.M{}
	for op, val := range m {
		switch op {
		case "$contains":
			out["$regex"] = regexp.QuoteMeta(fmt.Sprintf("%v", val))
		case "$startsWith":
			out["$regex"] = "^" + regexp.QuoteMeta(fmt.Sprintf("%v", val))
		case "$empty":
			if want, _ := val.(bool); want {
				out["$in"] = bson.A{nil, ""}
			} else {
				out["$nin"] = bson.A{nil, ""}
			}
		default:
			out[op] = translateFilterValue(val)
		}
	}
	return out
}

// MongoStore is the production DocumentStore adapter.
type MongoStore struct {
	db       *mongo.Database
	retryCfg retry.Config
}

// NewMongoStore wraps an already-connected database handle.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db, retryCfg: retry.Defaults()}
}

func classifyMongoErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNoDocuments
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.HasErrorLabel("TransientTransactionError") {
		return errs.Wrap(errs.TransientIO, err, "transient mongo failure")
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return errs.Wrap(errs.TransientIO, err, "transient mongo failure")
	}
	return errs.Wrap(errs.PermanentIO, err, "document store request failed")
}

func (m *MongoStore) EnsureIndexes(ctx context.Context, collection string, indexes []IndexSpec) error {
	coll := m.db.Collection(collection)
	models := make([]mongo.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		keys := bson.D{}
		for _, f := range idx.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		opts := options.Index().SetUnique(idx.Unique)
		if idx.Name != "" {
			opts = opts.SetName(idx.Name)
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}
	if len(models) == 0 {
		return nil
	}
	return retry.Do(ctx, m.retryCfg, func(ctx context.Context) error {
		_, err := coll.Indexes().CreateMany(ctx, models)
		return classifyMongoErr(err)
	})
}

func (m *MongoStore) Upsert(ctx context.Context, collection string, filter Filter, doc map[string]any) error {
	coll := m.db.Collection(collection)
	return retry.Do(ctx, m.retryCfg, func(ctx context.Context) error {
		_, err := coll.ReplaceOne(ctx, translateFilter(filter), bson.M(doc), options.Replace().SetUpsert(true))
		return classifyMongoErr(err)
	})
}

func (m *MongoStore) BulkWrite(ctx context.Context, collection string, ops []WriteOp) (BulkResult, error) {
	coll := m.db.Collection(collection)
	models := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		switch {
		case op.Delete:
			models = append(models, mongo.NewDeleteOneModel().SetFilter(translateFilter(op.Filter)))
		default:
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(translateFilter(op.Filter)).
				SetReplacement(bson.M(op.Update)).
				SetUpsert(op.Upsert))
		}
	}

	var out BulkResult
	err := retry.Do(ctx, m.retryCfg, func(ctx context.Context) error {
		res, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
		if err != nil {
			return classifyMongoErr(err)
		}
		out = BulkResult{
			Upserted: int(res.UpsertedCount),
			Modified: int(res.ModifiedCount),
			Deleted:  int(res.DeletedCount),
		}
		return nil
	})
	return out, err
}

func (m *MongoStore) FindOne(ctx context.Context, collection string, filter Filter) (map[string]any, error) {
	coll := m.db.Collection(collection)
	var out bson.M
	err := retry.Do(ctx, m.retryCfg, func(ctx context.Context) error {
		err := coll.FindOne(ctx, translateFilter(filter)).Decode(&out)
		return classifyMongoErr(err)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoStore) Find(ctx context.Context, collection string, filter Filter, sortSpec SortSpec, skip, limit int64) ([]map[string]any, error) {
	coll := m.db.Collection(collection)

	opts := options.Find()
	if skip > 0 {
		opts.SetSkip(skip)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if len(sortSpec) > 0 {
		sortDoc := bson.D{}
		for _, f := range sortedKeys(sortSpec) {
			sortDoc = append(sortDoc, bson.E{Key: f, Value: sortSpec[f]})
		}
		opts.SetSort(sortDoc)
	}

	var out []map[string]any
	err := retry.Do(ctx, m.retryCfg, func(ctx context.Context) error {
		cur, err := coll.Find(ctx, translateFilter(filter), opts)
		if err != nil {
			return classifyMongoErr(err)
		}
		defer cur.Close(ctx)

		var docs []bson.M
		if err := cur.All(ctx, &docs); err != nil {
			return classifyMongoErr(err)
		}
		out = make([]map[string]any, len(docs))
		for i, d := range docs {
			out[i] = d
		}
		return nil
	})
	return out, err
}

func (m *MongoStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	coll := m.db.Collection(collection)
	var n int64
	err := retry.Do(ctx, m.retryCfg, func(ctx context.Context) error {
		count, err := coll.CountDocuments(ctx, translateFilter(filter))
		if err != nil {
			return classifyMongoErr(err)
		}
		n = count
		return nil
	})
	return n, err
}

func (m *MongoStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	coll := m.db.Collection(collection)
	var n int64
	err := retry.Do(ctx, m.retryCfg, func(ctx context.Context) error {
		res, err := coll.DeleteMany(ctx, translateFilter(filter))
		if err != nil {
			return classifyMongoErr(err)
		}
		n = res.DeletedCount
		return nil
	})
	return n, err
}

func (m *MongoStore) Drop(ctx context.Context, collection string) error {
	return retry.Do(ctx, m.retryCfg, func(ctx context.Context) error {
		return classifyMongoErr(m.db.Collection(collection).Drop(ctx))
	})
}

var _ Store = (*MongoStore)(nil)
