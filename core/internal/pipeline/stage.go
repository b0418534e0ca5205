// Package pipeline defines the closed set of aggregation stages the query
// compiler emits. Stages are a sealed variant set instead of open maps so
// the compiler's output is exhaustively checkable, and every stage renders
// ordered documents (bson.D) because the store is sensitive to key order in
// sort and lookup sub-pipelines.
package pipeline

import (
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/qbloq/docstore/core/internal/ident"
)

// Stage is one step of a compiled aggregation pipeline.
type Stage interface {
	// Doc renders the stage as the document sent to the store.
	Doc() bson.D

	stage()
}

// Match filters root documents. It must be the first stage of a pipeline so
// the working set shrinks before any lookup runs.
type Match struct {
	Filter bson.M
}

func (s Match) Doc() bson.D {
	return bson.D{{Key: "$match", Value: s.Filter}}
}

// Lookup resolves the identifier reference(s) held in Field against the
// From collection. The inner pipeline matches target primary keys by their
// stringified form, so a scalar reference and a reference array compile to
// the same stage: the resolved field is always an array, with one element
// per reference that resolves. Target documents expose only the external
// identifier and the selected fields; the target's primary key never leaves
// the store.
type Lookup struct {
	From   string
	Field  string
	Filter bson.M // extra pre-filter, applied before projection
	Select []string
}

func (s Lookup) Doc() bson.D {
	// A scalar reference is wrapped into a one-element array so a single
	// $in expression covers both shapes.
	refs := bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$isArray", Value: "$$refs"}},
		"$$refs",
		bson.A{"$$refs"},
	}}}

	inner := bson.A{
		bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{{Key: "$in", Value: bson.A{
			bson.D{{Key: "$toString", Value: "$" + ident.InternalKey}},
			refs,
		}}}}}}},
	}
	if len(s.Filter) > 0 {
		inner = append(inner, bson.D{{Key: "$match", Value: s.Filter}})
	}
	inner = append(inner, bson.D{{Key: "$addFields", Value: bson.D{
		{Key: ident.ExternalKey, Value: bson.D{{Key: "$toString", Value: "$" + ident.InternalKey}}},
	}}})

	proj := bson.D{{Key: ident.InternalKey, Value: 0}}
	if len(s.Select) > 0 {
		proj = append(proj, bson.E{Key: ident.ExternalKey, Value: 1})
		for _, f := range s.Select {
			if f == ident.ExternalKey {
				continue
			}
			proj = append(proj, bson.E{Key: f, Value: 1})
		}
	}
	inner = append(inner, bson.D{{Key: "$project", Value: proj}})

	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: s.From},
		{Key: "let", Value: bson.D{{Key: "refs", Value: "$" + s.Field}}},
		{Key: "pipeline", Value: inner},
		{Key: "as", Value: s.Field},
	}}}
}

// AddFields copies computed fields (aliases) onto each document. It runs
// before projection so a selected alias survives it.
type AddFields struct {
	Fields bson.D
}

func (s AddFields) Doc() bson.D {
	return bson.D{{Key: "$addFields", Value: s.Fields}}
}

// Project retains only the listed fields.
type Project struct {
	Fields bson.D
}

func (s Project) Doc() bson.D {
	return bson.D{{Key: "$project", Value: s.Fields}}
}

// Sort orders documents. Keys is ordered; earlier keys take tie-break
// priority over later ones.
type Sort struct {
	Keys bson.D
}

func (s Sort) Doc() bson.D {
	return bson.D{{Key: "$sort", Value: s.Keys}}
}

// Skip drops the first N documents of the shaped result.
type Skip struct {
	N int64
}

func (s Skip) Doc() bson.D {
	return bson.D{{Key: "$skip", Value: s.N}}
}

// Limit caps the shaped result at N documents.
type Limit struct {
	N int64
}

func (s Limit) Doc() bson.D {
	return bson.D{{Key: "$limit", Value: s.N}}
}

// Count terminates a pipeline with the number of documents that reached it,
// emitted under Field.
type Count struct {
	Field string
}

func (s Count) Doc() bson.D {
	return bson.D{{Key: "$count", Value: s.Field}}
}

func (Match) stage()     {}
func (Lookup) stage()    {}
func (AddFields) stage() {}
func (Project) stage()   {}
func (Sort) stage()      {}
func (Skip) stage()      {}
func (Limit) stage()     {}
func (Count) stage()     {}

// Render converts compiled stages to the driver's pipeline representation.
func Render(stages []Stage) mongo.Pipeline {
	p := make(mongo.Pipeline, len(stages))
	for i, s := range stages {
		p[i] = s.Doc()
	}
	return p
}
