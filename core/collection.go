package core

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/qbloq/docstore/core/internal/ident"
	"github.com/qbloq/docstore/core/internal/pipeline"
)

const ensuredCacheSize = 512

// DB binds the query layer to one store database. It holds no hidden
// process-wide state: the shared client connection is passed in once and
// reused by every collection facade built on it.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.SugaredLogger

	// unique-index ensures are collapsed across goroutines and remembered
	// per process so repeated declarations cost no round-trips
	flight  singleflight.Group
	ensured *lru.Cache
}

// NewDB wraps an established client connection. A nil logger disables
// logging.
func NewDB(client *mongo.Client, db *mongo.Database, log *zap.SugaredLogger) *DB {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cache, _ := lru.New(ensuredCacheSize) // only fails for size <= 0
	return &DB{client: client, db: db, log: log, ensured: cache}
}

// Collection is the typed facade over one store collection. All reads flow
// through the query compiler and back through the identity mapper; all
// writes flow through the uniqueness validator and the identity mapper.
type Collection[T any] struct {
	db   *DB
	coll *mongo.Collection
	log  *zap.SugaredLogger
}

// GetCollection binds a typed facade to a named collection.
func GetCollection[T any](db *DB, name string) *Collection[T] {
	return &Collection[T]{
		db:   db,
		coll: db.db.Collection(name),
		log:  db.log.Named(name),
	}
}

// Name returns the bound collection name.
func (c *Collection[T]) Name() string { return c.coll.Name() }

// Insert writes one document and returns its new external identifier. A
// caller-supplied identifier is discarded; identity is always generated
// here. uniqueFields declare fields (or comma-separated compound field
// sets) that must be unique before the write proceeds.
func (c *Collection[T]) Insert(ctx context.Context, data T, uniqueFields ...string) (string, error) {
	doc, err := encodeEntity(data)
	if err != nil {
		return "", fmt.Errorf("docstore: insert into %s: encode: %w", c.coll.Name(), err)
	}
	ident.StripExternal(doc)

	if err := c.EnsureUnique(ctx, uniqueFields...); err != nil {
		return "", err
	}

	oid := bson.NewObjectID()
	doc[ident.InternalKey] = oid

	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", &ValidationError{Op: "insert", Reason: "unique constraint violated", Err: err}
		}
		return "", fmt.Errorf("docstore: insert into %s: %w", c.coll.Name(), err)
	}
	return oid.Hex(), nil
}

// InsertMany writes documents unordered: one document's failure does not
// block its siblings. On partial failure the identifiers of the documents
// that did make it are returned without an error so the caller can
// reconcile.
func (c *Collection[T]) InsertMany(ctx context.Context, datas []T, uniqueFields ...string) ([]string, error) {
	if len(datas) == 0 {
		return nil, nil
	}
	if err := c.EnsureUnique(ctx, uniqueFields...); err != nil {
		return nil, err
	}

	docs := make([]any, len(datas))
	for i, d := range datas {
		doc, err := encodeEntity(d)
		if err != nil {
			return nil, fmt.Errorf("docstore: insertMany into %s: encode: %w", c.coll.Name(), err)
		}
		ident.StripExternal(doc)
		doc[ident.InternalKey] = bson.NewObjectID()
		docs[i] = doc
	}

	res, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && res != nil {
			ids := externalIDs(res.InsertedIDs)
			c.log.Debugw("bulk insert partially failed",
				"collection", c.coll.Name(),
				"inserted", len(ids),
				"failed", len(bwe.WriteErrors))
			return ids, nil
		}
		return nil, fmt.Errorf("docstore: insertMany into %s: %w", c.coll.Name(), err)
	}
	return externalIDs(res.InsertedIDs), nil
}

func externalIDs(raw []any) []string {
	ids := make([]string, len(raw))
	for i, v := range raw {
		ids[i] = ident.Stringify(v)
	}
	return ids
}

// Update applies a partial field set to every document matching where and
// reports how many were actually modified, not matched. An empty payload
// is a caller error. Identity fields in the payload are ignored; the
// primary key is immutable.
func (c *Collection[T]) Update(ctx context.Context, where *Where, data map[string]any, uniqueFields ...string) (int64, error) {
	if len(data) == 0 {
		return 0, &ValidationError{Op: "update", Reason: "empty update payload"}
	}
	filter, err := buildMatch(where)
	if err != nil {
		return 0, err
	}
	if filter == nil {
		filter = bson.M{}
	}
	if err := c.EnsureUnique(ctx, uniqueFields...); err != nil {
		return 0, err
	}

	set := make(bson.M, len(data))
	for k, v := range data {
		if k == ident.ExternalKey || k == ident.InternalKey {
			continue
		}
		set[k] = v
	}
	if len(set) == 0 {
		return 0, &ValidationError{Op: "update", Reason: "no updatable fields in payload"}
	}

	res, err := c.coll.UpdateMany(ctx, filter, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, &ValidationError{Op: "update", Reason: "unique constraint violated", Err: err}
		}
		return 0, fmt.Errorf("docstore: update %s filter %v: %w", c.coll.Name(), filter, err)
	}
	return res.ModifiedCount, nil
}

// Delete removes every document matching where and returns how many were
// removed.
func (c *Collection[T]) Delete(ctx context.Context, where *Where) (int64, error) {
	filter, err := buildMatch(where)
	if err != nil {
		return 0, err
	}
	if filter == nil {
		filter = bson.M{}
	}
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("docstore: delete from %s filter %v: %w", c.coll.Name(), filter, err)
	}
	return res.DeletedCount, nil
}

// FindSingle compiles and executes the query in single mode and returns
// the first match. ErrNotFound reports an empty result. The filtered total
// count is still computed, exactly as in list mode.
func (c *Collection[T]) FindSingle(ctx context.Context, q *Query) (*T, error) {
	if q == nil {
		var raw bson.M
		if err := c.coll.FindOne(ctx, bson.M{}).Decode(&raw); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("docstore: findOne %s: %w", c.coll.Name(), err)
		}
		return c.decodeOne(raw)
	}

	if _, err := c.runCount(ctx, q); err != nil {
		return nil, err
	}
	stages, err := compileFind(q, false)
	if err != nil {
		return nil, err
	}
	docs, err := c.aggregate(ctx, stages)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return c.decodeOne(docs[0])
}

// FindMany compiles and executes the query in list mode. The count
// pipeline runs against the filter alone before skip/limit shape the page.
func (c *Collection[T]) FindMany(ctx context.Context, q *Query) (*PaginatedResult[T], error) {
	if q == nil {
		return c.findAll(ctx)
	}

	total, err := c.runCount(ctx, q)
	if err != nil {
		return nil, err
	}
	stages, err := compileFind(q, true)
	if err != nil {
		return nil, err
	}
	docs, err := c.aggregate(ctx, stages)
	if err != nil {
		return nil, err
	}
	out, err := c.decodeAll(docs)
	if err != nil {
		return nil, err
	}
	return &PaginatedResult[T]{Datas: out, TotalCount: total}, nil
}

// Count returns the number of documents matching where, via the count
// pipeline alone. A nil where counts the whole collection.
func (c *Collection[T]) Count(ctx context.Context, where *Where) (int64, error) {
	if where == nil {
		n, err := c.coll.CountDocuments(ctx, bson.M{})
		if err != nil {
			return 0, fmt.Errorf("docstore: count %s: %w", c.coll.Name(), err)
		}
		return n, nil
	}
	return c.runCount(ctx, &Query{Where: where})
}

// findAll is the no-descriptor list path: a plain scan plus a collection
// count, no pipeline involved.
func (c *Collection[T]) findAll(ctx context.Context) (*PaginatedResult[T], error) {
	total, err := c.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("docstore: count %s: %w", c.coll.Name(), err)
	}
	cursor, err := c.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("docstore: find %s: %w", c.coll.Name(), err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("docstore: find results %s: %w", c.coll.Name(), err)
	}
	out, err := c.decodeAll(docs)
	if err != nil {
		return nil, err
	}
	return &PaginatedResult[T]{Datas: out, TotalCount: total}, nil
}

// runCount executes the count pipeline for a query. Only the filter
// participates; an empty aggregation result means zero matches.
func (c *Collection[T]) runCount(ctx context.Context, q *Query) (int64, error) {
	stages, err := compileCount(q)
	if err != nil {
		return 0, err
	}
	docs, err := c.aggregate(ctx, stages)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	switch n := docs[0][countField].(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("docstore: count %s: unexpected result %v", c.coll.Name(), docs[0])
}

func (c *Collection[T]) aggregate(ctx context.Context, stages []pipeline.Stage) ([]bson.M, error) {
	p := pipeline.Render(stages)
	c.log.Debugw("aggregate", "collection", c.coll.Name(), "stages", len(p))

	cursor, err := c.coll.Aggregate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("docstore: aggregate %s: %w", c.coll.Name(), err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("docstore: aggregate results %s: %w", c.coll.Name(), err)
	}
	return docs, nil
}

func (c *Collection[T]) decodeOne(doc bson.M) (*T, error) {
	var out T
	if err := decodeEntity(ident.ToExternal(doc), &out); err != nil {
		return nil, fmt.Errorf("docstore: decode result from %s: %w", c.coll.Name(), err)
	}
	return &out, nil
}

func (c *Collection[T]) decodeAll(docs []bson.M) ([]T, error) {
	out := make([]T, len(docs))
	for i, d := range docs {
		if err := decodeEntity(ident.ToExternal(d), &out[i]); err != nil {
			return nil, fmt.Errorf("docstore: decode result from %s: %w", c.coll.Name(), err)
		}
	}
	return out, nil
}
