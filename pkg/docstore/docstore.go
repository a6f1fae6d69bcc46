// Package docstore defines the thin DocumentStore façade §4 describes:
// collections, idempotent upserts, bulk-write, count, find, and index
// management. It is expressed against Mongo's own vocabulary because
// that is the literal shape spec.md's DocumentStore contract uses
// (collections/bulk-write/indexes) — see DESIGN.md.
package docstore

import "context"

// Filter is an opaque, backend-specific query predicate. The Mongo
// adapter expects a bson.M-compatible map[string]any; the in-memory
// fake interprets the same shape with a tiny predicate evaluator so
// tests can run against either backend unmodified.
type Filter = map[string]any

// SortSpec is field -> 1 (ascending) / -1 (descending). A map has no
// order of its own, so with more than one field both Memory and
// MongoStore apply the fields in alphabetical order of field name.
type SortSpec = map[string]int

// WriteOp is one element of a bulk write.
type WriteOp struct {
	Filter Filter
	Update map[string]any // full replacement document when Upsert is used without $set
	Upsert bool
	Delete bool
}

// BulkResult summarises the effect of a bulk write.
type BulkResult struct {
	Upserted int
	Modified int
	Deleted  int
}

// IndexSpec declares one index to ensure exists on a collection.
type IndexSpec struct {
	Name   string
	Fields []string // compound index field order
	Unique bool
}

// Store is the DocumentStore façade. Every dataset gets a collection
// named after its DatasetDefinition; the core also owns several fixed
// collections (see §6.3).
type Store interface {
	// EnsureIndexes creates the given indexes on collection if absent.
	EnsureIndexes(ctx context.Context, collection string, indexes []IndexSpec) error

	// Upsert replaces (or inserts) the document matching filter.
	Upsert(ctx context.Context, collection string, filter Filter, doc map[string]any) error

	// BulkWrite applies ops to collection as a single batch, in order.
	BulkWrite(ctx context.Context, collection string, ops []WriteOp) (BulkResult, error)

	// FindOne returns the first document matching filter, or ErrNoDocuments.
	FindOne(ctx context.Context, collection string, filter Filter) (map[string]any, error)

	// Find returns documents matching filter, sorted, paginated.
	Find(ctx context.Context, collection string, filter Filter, sort SortSpec, skip, limit int64) ([]map[string]any, error)

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, collection string, filter Filter) (int64, error)

	// DeleteMany removes every document matching filter and returns the count deleted.
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)

	// Drop removes every document in collection; used by ClearDown-style operations.
	Drop(ctx context.Context, collection string) error
}
