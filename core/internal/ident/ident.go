// Package ident translates between the caller-facing external identifier
// and the store's internal primary key. Callers only ever see "id" as a hex
// string; the store only ever sees "_id" as an ObjectID. Every outbound
// filter and every inbound result document passes through here.
package ident

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	// ExternalKey is the caller-facing identifier field.
	ExternalKey = "id"

	// InternalKey is the store's primary key field. It is never exposed
	// to callers.
	InternalKey = "_id"
)

// ToInternal rewrites the external identifier key in a filter to the
// store's primary key, converting hex identifier values to ObjectIDs.
// Logical operator branches ($or, $and, $nor) are rewritten recursively.
// Fields unrelated to identity pass through untouched, and a filter without
// the external key comes back unchanged in content.
func ToInternal(filter map[string]any) bson.M {
	if filter == nil {
		return nil
	}
	out := make(bson.M, len(filter))
	for k, v := range filter {
		switch {
		case k == ExternalKey:
			out[InternalKey] = internalValue(v)
		case k == "$or" || k == "$and" || k == "$nor":
			out[k] = internalBranches(v)
		default:
			out[k] = v
		}
	}
	return out
}

func internalBranches(v any) any {
	switch list := v.(type) {
	case []any:
		out := make([]any, len(list))
		for i, item := range list {
			if m, ok := item.(map[string]any); ok {
				out[i] = ToInternal(m)
			} else if m, ok := item.(bson.M); ok {
				out[i] = ToInternal(m)
			} else {
				out[i] = item
			}
		}
		return out
	case []map[string]any:
		out := make([]bson.M, len(list))
		for i, m := range list {
			out[i] = ToInternal(m)
		}
		return out
	case []bson.M:
		out := make([]bson.M, len(list))
		for i, m := range list {
			out[i] = ToInternal(m)
		}
		return out
	default:
		return v
	}
}

// internalValue converts identifier values to their stored representation.
// Operator maps are converted per operator value, arrays element-wise. A
// string that does not parse as a key is left alone so the store can report
// a zero-match filter instead of this layer guessing.
func internalValue(v any) any {
	switch t := v.(type) {
	case string:
		if oid, err := bson.ObjectIDFromHex(t); err == nil {
			return oid
		}
		return t
	case map[string]any:
		out := make(bson.M, len(t))
		for op, ov := range t {
			out[op] = internalValue(ov)
		}
		return out
	case bson.M:
		out := make(bson.M, len(t))
		for op, ov := range t {
			out[op] = internalValue(ov)
		}
		return out
	case []any:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = internalValue(item)
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = internalValue(item)
		}
		return out
	case []string:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = internalValue(item)
		}
		return out
	default:
		return v
	}
}

// ToExternal maps a result document's primary key to the stringified
// external identifier and removes the primary key. Documents without a
// primary key pass through as-is. The input document is not modified.
func ToExternal(doc bson.M) bson.M {
	if doc == nil {
		return nil
	}
	raw, ok := doc[InternalKey]
	if !ok {
		return doc
	}
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if k == InternalKey {
			continue
		}
		out[k] = v
	}
	out[ExternalKey] = Stringify(raw)
	return out
}

// Stringify renders a primary key value as its external identifier string.
func Stringify(v any) string {
	switch t := v.(type) {
	case bson.ObjectID:
		return t.Hex()
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// StripExternal removes a caller-supplied external identifier from a write
// payload. Persisted identity is always generated by this layer, never
// trusted from the caller.
func StripExternal(doc bson.M) {
	delete(doc, ExternalKey)
}
