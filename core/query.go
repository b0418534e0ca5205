// Package core is a typed query-compilation and collection-access layer in
// front of MongoDB. A declarative Query descriptor (filter, selection,
// joins, sort, pagination, aliases) is compiled into an ordered aggregation
// pipeline; the store's primary key stays hidden behind a stable external
// identifier at every boundary.
package core

// Cond maps a field name to either a literal value (implicit equality) or
// a map of store operators such as $eq, $ne, $lt, $lte, $gt, $gte, $in,
// $nin, $exists, $regex, $all and $elemMatch. Unknown operator keys pass
// through verbatim so new store operators work without a release here.
type Cond map[string]any

// Where is the filter part of a query. Exactly one of the three forms may
// be set: Flat for a single predicate set, Or or And for a logical
// combination of flat predicates. Setting more than one form is rejected
// as a caller error rather than resolved by guessed precedence.
type Where struct {
	Flat Cond
	Or   []Cond
	And  []Cond
}

// Join declares the resolution of a field holding an identifier, or an
// array of identifiers, against another collection. Resolution never
// inspects source data to change cardinality: the resolved field is an
// array with one element per reference that resolves.
type Join struct {
	Field      string
	Collection string

	// Select limits the fields of resolved documents. The external
	// identifier is always included; the target's primary key never is.
	Select []string

	// Match is an extra filter applied inside this join's resolution,
	// before projection.
	Match Cond
}

// SortKey orders results by one field. Keys declared earlier take
// tie-break priority over later ones.
type SortKey struct {
	Field string
	Desc  bool
}

// Alias copies a source field path to a new name. Aliases are computed
// before projection, so a selected alias is retained and an unselected one
// is dropped.
type Alias struct {
	Name string
	Path string
}

// Query is a declarative, per-call query descriptor. It is treated as
// immutable once handed to a facade operation. Joins, Sort and Aliases are
// ordered slices because their declaration order is significant to the
// compiled pipeline; maps would lose it.
type Query struct {
	Where   *Where
	Select  []string
	Joins   []Join
	Sort    []SortKey
	Aliases []Alias

	// Skip and Limit apply to the fully shaped result in list mode.
	// Zero or negative values are no-ops.
	Skip  int64
	Limit int64
}

// PaginatedResult carries one page of documents plus the total number of
// documents matching the query's filter. TotalCount depends on the filter
// alone: selection, joins, aliases, sorting and pagination never change it.
type PaginatedResult[T any] struct {
	Datas      []T
	TotalCount int64
}
