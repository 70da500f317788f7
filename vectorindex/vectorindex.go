// Package vectorindex defines the boundary to the multi-space vector index
// and provides an in-memory backend for tests and local development.
//
// The production index is an external service; this package specifies the
// contract the ingestion pipeline and retrieval engine rely on: named vector
// spaces (multi-vector spaces scored with MaxSim, single-vector spaces with
// dot product), idempotent upsert by point id, two-stage prefetch/rerank
// queries, equality filters and delete-by-filter.
package vectorindex

import (
	"context"
	"errors"

	"github.com/athrael-soju/snappy/model"
)

var (
	// ErrUnavailable is returned when the index cannot be reached.
	//
	// Implementations should return an error that satisfies
	// `errors.Is(err, ErrUnavailable)`.
	ErrUnavailable = errors.New("vector index unavailable")

	// ErrNotFound is returned when the collection does not exist.
	ErrNotFound = errors.New("collection not found")
)

// MultiSpace configures a named multi-vector space.
type MultiSpace struct {
	// Quantized attaches binary quantization to the space.
	Quantized bool
	// AlwaysRAM pins quantized codes in memory.
	AlwaysRAM bool
	// OnDisk places the original vectors on disk.
	OnDisk bool
}

// SingleSpace configures a named single-vector space.
type SingleSpace struct {
	// Dim is the space's own dimension; single-vector spaces need not share
	// the token dimension.
	Dim       int
	Quantized bool
	AlwaysRAM bool
	OnDisk    bool
}

// Schema describes the collection layout: the shared embedding dimension
// and the named vector spaces.
type Schema struct {
	Dim           int
	Multi         map[string]MultiSpace
	Single        map[string]SingleSpace
	OnDiskPayload bool
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	out := Schema{Dim: s.Dim, OnDiskPayload: s.OnDiskPayload}
	if s.Multi != nil {
		out.Multi = make(map[string]MultiSpace, len(s.Multi))
		for k, v := range s.Multi {
			out.Multi[k] = v
		}
	}
	if s.Single != nil {
		out.Single = make(map[string]SingleSpace, len(s.Single))
		for k, v := range s.Single {
			out.Single[k] = v
		}
	}
	return out
}

// Filter is an equality filter on a payload field. The zero value matches
// everything.
type Filter struct {
	Field string
	Value string
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool { return f.Field == "" }

// SearchParams tunes quantized search behavior.
type SearchParams struct {
	// Oversampling multiplies the candidate pool fetched with quantized
	// scores before rescoring. Values <= 1 mean no oversampling.
	Oversampling float64
	// Rescore re-scores quantized candidates on the original vectors.
	Rescore bool
	// IgnoreQuant bypasses quantized codes entirely.
	IgnoreQuant bool
}

// Prefetch is a first-stage candidate query against one space.
type Prefetch struct {
	Space  string
	Multi  [][]float32 // set for multi-vector spaces
	Single []float32   // set for single-vector spaces
	Limit  int
}

// Query is a two-stage index query: one or more prefetches feeding a final
// rerank pass, or a direct query when Prefetch is empty.
type Query struct {
	Prefetch    []Prefetch
	RerankSpace string
	RerankMulti [][]float32
	Limit       int
	Filter      Filter
	Params      SearchParams
}

// Index is the vector index boundary.
type Index interface {
	// Ensure creates the collection if absent, or validates/extends it when
	// present. Adding a single-vector space to an existing collection is an
	// in-place extension, not a rebuild.
	Ensure(ctx context.Context, schema Schema) error

	// Info returns the live schema. ErrNotFound when the collection is absent.
	Info(ctx context.Context) (Schema, error)

	// Drop deletes the collection and all points.
	Drop(ctx context.Context) error

	// Upsert writes points by id. Re-upserting an id overwrites, never
	// duplicates.
	Upsert(ctx context.Context, points []model.Point) error

	// Query executes a two-stage prefetch/rerank query.
	Query(ctx context.Context, q Query) ([]model.ScoredPoint, error)

	// DeleteByFilter removes every point matching the filter.
	DeleteByFilter(ctx context.Context, f Filter) error

	// Scroll pages through points matching the filter. The returned cursor
	// is empty when iteration is complete.
	Scroll(ctx context.Context, f Filter, limit int, cursor string) ([]model.Point, string, error)

	// Count returns the number of stored points.
	Count(ctx context.Context) (int, error)
}
