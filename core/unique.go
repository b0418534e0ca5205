package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureUnique guarantees a unique index exists for each declared field
// spec. A spec is one field name, or several comma-separated names for a
// compound constraint. Repeated declarations are idempotent no-ops:
// concurrent ensures of the same spec collapse into one flight, and specs
// known to exist are remembered so they cost no further round-trips.
func (c *Collection[T]) EnsureUnique(ctx context.Context, specs ...string) error {
	for _, spec := range specs {
		fields := splitSpec(spec)
		if len(fields) == 0 {
			continue
		}
		key := c.coll.Name() + "\x00" + strings.Join(fields, ",")
		if c.db.ensured.Contains(key) {
			continue
		}
		_, err, _ := c.db.flight.Do(key, func() (any, error) {
			return nil, c.createUniqueIndex(ctx, fields)
		})
		if err != nil {
			return &ValidationError{
				Op:     "unique",
				Reason: fmt.Sprintf("constraint on %s in %s", spec, c.coll.Name()),
				Err:    err,
			}
		}
		c.db.ensured.Add(key, struct{}{})
	}
	return nil
}

func splitSpec(spec string) []string {
	var fields []string
	for _, f := range strings.Split(spec, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// createUniqueIndex checks for an existing unique index on fields and
// creates one when missing. Losing the creation race to a concurrent
// caller is tolerated, but only after confirming a unique index really
// does cover the fields now: a conflict with a plain index means no
// constraint holds and must abort the guarded write. Anything else,
// typically pre-existing duplicate data, surfaces as well.
func (c *Collection[T]) createUniqueIndex(ctx context.Context, fields []string) error {
	exists, err := c.indexExists(ctx, fields)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	keys := make(bson.D, len(fields))
	for i, f := range fields {
		keys[i] = bson.E{Key: f, Value: 1}
	}
	_, err = c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true),
	})
	if err == nil {
		c.log.Debugw("unique index created", "collection", c.coll.Name(), "fields", fields)
		return nil
	}
	if indexConflict(err) {
		// either a concurrent caller won the creation race, or a
		// non-unique index with the same keys is in the way; re-list to
		// tell the two apart
		exists, lerr := c.indexExists(ctx, fields)
		if lerr == nil && exists {
			c.log.Debugw("unique index already present", "collection", c.coll.Name(), "fields", fields)
			return nil
		}
	}
	return err
}

// indexExists reports whether a unique index over exactly these keys is
// present. A non-unique index with the same keys does not count; it
// enforces nothing.
func (c *Collection[T]) indexExists(ctx context.Context, fields []string) (bool, error) {
	cursor, err := c.coll.Indexes().List(ctx)
	if err != nil {
		return false, err
	}
	var specs []bson.M
	if err := cursor.All(ctx, &specs); err != nil {
		return false, err
	}
	for _, s := range specs {
		if unique, ok := s["unique"].(bool); !ok || !unique {
			continue
		}
		key, ok := s["key"].(bson.M)
		if !ok {
			continue
		}
		if matchesKeys(key, fields) {
			return true, nil
		}
	}
	return false, nil
}

func matchesKeys(key bson.M, fields []string) bool {
	if len(key) != len(fields) {
		return false
	}
	for _, f := range fields {
		if _, ok := key[f]; !ok {
			return false
		}
	}
	return true
}

// indexConflict matches the store's index conflict errors: code 85
// (IndexOptionsConflict), code 86 (IndexKeySpecsConflict) and the legacy
// "already exists" message. A conflict alone does not say whether the
// winning index is unique; callers must verify that before treating it as
// success.
func indexConflict(err error) bool {
	var ce mongo.CommandError
	if !errors.As(err, &ce) {
		return false
	}
	if ce.Code == 85 || ce.Code == 86 {
		return true
	}
	return strings.Contains(ce.Message, "already exists")
}
