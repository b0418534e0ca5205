package core

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/qbloq/docstore/core/internal/ident"
	"github.com/qbloq/docstore/core/internal/pipeline"
)

// countField is the key the count stage reports its result under.
const countField = "totalCount"

// buildMatch flattens a Where into a single store filter, rewriting the
// external identifier to the primary key. A nil or empty Where yields nil
// so callers omit the match stage entirely instead of sending a spurious
// full-scan filter.
func buildMatch(w *Where) (bson.M, error) {
	if w == nil {
		return nil, nil
	}
	forms := 0
	if len(w.Flat) > 0 {
		forms++
	}
	if len(w.Or) > 0 {
		forms++
	}
	if len(w.And) > 0 {
		forms++
	}
	if forms > 1 {
		return nil, &ValidationError{Op: "filter", Reason: "where must use exactly one of the flat, or, and forms"}
	}
	switch {
	case len(w.Flat) > 0:
		return ident.ToInternal(w.Flat), nil
	case len(w.Or) > 0:
		return bson.M{"$or": internalConds(w.Or)}, nil
	case len(w.And) > 0:
		return bson.M{"$and": internalConds(w.And)}, nil
	}
	return nil, nil
}

func internalConds(conds []Cond) []bson.M {
	out := make([]bson.M, len(conds))
	for i, c := range conds {
		out[i] = ident.ToInternal(c)
	}
	return out
}

// buildProjection maps each selected field to an inclusion. Selecting the
// external identifier selects the primary key, which is mapped back to the
// identifier when results come off the wire. An empty selection yields nil
// and no projection stage.
func buildProjection(selected []string) bson.D {
	if len(selected) == 0 {
		return nil
	}
	proj := make(bson.D, 0, len(selected))
	for _, f := range selected {
		if f == ident.ExternalKey {
			f = ident.InternalKey
		}
		proj = append(proj, bson.E{Key: f, Value: 1})
	}
	return proj
}

// buildSort renders sort keys in declaration order, which is the tie-break
// priority the store applies.
func buildSort(keys []SortKey) bson.D {
	if len(keys) == 0 {
		return nil
	}
	sortd := make(bson.D, 0, len(keys))
	for _, k := range keys {
		field := k.Field
		if field == ident.ExternalKey {
			field = ident.InternalKey
		}
		dir := 1
		if k.Desc {
			dir = -1
		}
		sortd = append(sortd, bson.E{Key: field, Value: dir})
	}
	return sortd
}

// compileFind assembles the canonical pipeline: match, one lookup per join
// in declaration order, alias copies, projection, sort, then pagination in
// list mode. The order is load-bearing: match first cuts the working set
// before lookups execute, aliasing before projection lets an alias be
// selected, sort after projection can order by original or aliased fields,
// and skip/limit apply to the fully shaped result.
func compileFind(q *Query, list bool) ([]pipeline.Stage, error) {
	filter, err := buildMatch(q.Where)
	if err != nil {
		return nil, err
	}

	var stages []pipeline.Stage
	if len(filter) > 0 {
		stages = append(stages, pipeline.Match{Filter: filter})
	}
	for _, j := range q.Joins {
		stages = append(stages, pipeline.Lookup{
			From:   j.Collection,
			Field:  j.Field,
			Filter: ident.ToInternal(j.Match),
			Select: j.Select,
		})
	}
	if len(q.Aliases) > 0 {
		fields := make(bson.D, 0, len(q.Aliases))
		for _, a := range q.Aliases {
			// an alias of the external identifier reads the primary key
			// and stringifies it, same as result mapping does
			var src any = "$" + a.Path
			if a.Path == ident.ExternalKey {
				src = bson.D{{Key: "$toString", Value: "$" + ident.InternalKey}}
			}
			fields = append(fields, bson.E{Key: a.Name, Value: src})
		}
		stages = append(stages, pipeline.AddFields{Fields: fields})
	}
	if proj := buildProjection(q.Select); proj != nil {
		stages = append(stages, pipeline.Project{Fields: proj})
	}
	if sortd := buildSort(q.Sort); sortd != nil {
		stages = append(stages, pipeline.Sort{Keys: sortd})
	}
	if list {
		if q.Skip > 0 {
			stages = append(stages, pipeline.Skip{N: q.Skip})
		}
		if q.Limit > 0 {
			stages = append(stages, pipeline.Limit{N: q.Limit})
		}
	}
	return stages, nil
}

// compileCount assembles the count-only pipeline: the match stage if there
// is one, then a terminal count. Joins, aliases, projection and pagination
// are deliberately absent; they cannot change the number of matching root
// documents.
func compileCount(q *Query) ([]pipeline.Stage, error) {
	filter, err := buildMatch(q.Where)
	if err != nil {
		return nil, err
	}
	var stages []pipeline.Stage
	if len(filter) > 0 {
		stages = append(stages, pipeline.Match{Filter: filter})
	}
	return append(stages, pipeline.Count{Field: countField}), nil
}
