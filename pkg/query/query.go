// Package query implements the QueryService and per-operation
// QueryCache §4.9 describes: a small filter-tree DSL translated onto
// the DocumentStore's own operator vocabulary, and an AnalysisContext
// that memoises query results by a deterministic hash of the
// normalised parameter tree. Grounded on the teacher's
// `sync.RWMutex`-guarded map idiom (`pkg/worker/worker.go`'s
// `containersMu`), applied here to a single-flight query cache rather
// than a container registry.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/metrics"
)

// Op is one filter-tree node kind.
type Op string

const (
	OpEq         Op = "Eq"
	OpNeq        Op = "Neq"
	OpGt         Op = "Gt"
	OpLt         Op = "Lt"
	OpAnd        Op = "And"
	OpOr         Op = "Or"
	OpNot        Op = "Not"
	OpContains   Op = "Contains"
	OpStartsWith Op = "StartsWith"
	OpIn         Op = "In"
	OpExists     Op = "Exists"
	OpEmpty      Op = "Empty"
)

// FilterNode is one node of a QueryParameters filter tree. Leaf nodes
// (Eq, Neq, Gt, Lt, Contains, StartsWith, In, Exists, Empty) set
// Field/Value; And/Or/Not set Children (Not uses Children[0]). The
// zero FilterNode matches everything.
type FilterNode struct {
	Op       Op
	Field    string
	Value    any
	Children []FilterNode
}

// OrderSpec is one sort key. Query hands the keys to the store as a
// docstore.SortSpec map, so with more than one key the store applies
// them in alphabetical order of field name, not in slice order.
type OrderSpec struct {
	Field      string
	Descending bool
}

// Parameters fully describes one paginated query against a collection.
type Parameters struct {
	Collection string
	Filter     FilterNode
	OrderBy    []OrderSpec
	Skip       int64
	Top        int64
}

// Result is what Query returns.
type Result struct {
	Data       []map[string]any
	TotalCount int64
	Skip       int64
	Top        int64
	HasMore    bool
}

// Service answers Parameters against a DocumentStore. Stateless;
// every call reads the store directly.
type Service struct {
	store docstore.Store
}

// NewService builds a Service reading through store.
func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

// Query runs params against the store and returns a paginated result.
func (s *Service) Query(ctx context.Context, params Parameters) (Result, error) {
	filter := params.Filter.toDocstoreFilter()
	sort := orderByToSortSpec(params.OrderBy)

	data, err := s.store.Find(ctx, params.Collection, filter, sort, params.Skip, params.Top)
	if err != nil {
		return Result{}, err
	}
	total, err := s.store.Count(ctx, params.Collection, filter)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Data:       data,
		TotalCount: total,
		Skip:       params.Skip,
		Top:        params.Top,
		HasMore:    params.Skip+int64(len(data)) < total,
	}, nil
}

// QuerySingle returns the first matching document, or false if none.
func (s *Service) QuerySingle(ctx context.Context, params Parameters) (map[string]any, bool, error) {
	params.Skip = 0
	params.Top = 1
	res, err := s.Query(ctx, params)
	if err != nil {
		return nil, false, err
	}
	if len(res.Data) == 0 {
		return nil, false, nil
	}
	return res.Data[0], true, nil
}

func orderByToSortSpec(orderBy []OrderSpec) docstore.SortSpec {
	if len(orderBy) == 0 {
		return nil
	}
	spec := make(docstore.SortSpec, len(orderBy))
	for _, o := range orderBy {
		dir := 1
		if o.Descending {
			dir = -1
		}
		spec[o.Field] = dir
	}
	return spec
}

func (n FilterNode) toDocstoreFilter() docstore.Filter {
	switch n.Op {
	case "":
		return docstore.Filter{}
	case OpAnd:
		return docstore.Filter{"$and": n.childFilters()}
	case OpOr:
		return docstore.Filter{"$or": n.childFilters()}
	case OpNot:
		if len(n.Children) == 0 {
			return docstore.Filter{}
		}
		return docstore.Filter{"$not": n.Children[0].toDocstoreFilter()}
	case OpEq:
		return docstore.Filter{n.Field: docstore.Filter{"$eq": n.Value}}
	case OpNeq:
		return docstore.Filter{n.Field: docstore.Filter{"$ne": n.Value}}
	case OpGt:
		return docstore.Filter{n.Field: docstore.Filter{"$gt": n.Value}}
	case OpLt:
		return docstore.Filter{n.Field: docstore.Filter{"$lt": n.Value}}
	case OpContains:
		return docstore.Filter{n.Field: docstore.Filter{"$contains": n.Value}}
	case OpStartsWith:
		return docstore.Filter{n.Field: docstore.Filter{"$startsWith": n.Value}}
	case OpIn:
		return docstore.Filter{n.Field: docstore.Filter{"$in": n.Value}}
	case OpExists:
		return docstore.Filter{n.Field: docstore.Filter{"$exists": n.Value}}
	case OpEmpty:
		return docstore.Filter{n.Field: docstore.Filter{"$empty": n.Value}}
	default:
		return docstore.Filter{}
	}
}

func (n FilterNode) childFilters() []docstore.Filter {
	out := make([]docstore.Filter, len(n.Children))
	for i, c := range n.Children {
		out[i] = c.toDocstoreFilter()
	}
	return out
}

// pendingResult is one in-flight-or-completed cache slot.
type pendingResult struct {
	done   chan struct{}
	result Result
	err    error
}

// Context is an AnalysisContext: a per-operation, never-invalidated
// memoisation of Query results keyed by a deterministic hash of the
// normalised parameter tree. Concurrent Query calls with equal
// parameters block on the first call's result rather than issuing a
// second read.
type Context struct {
	operationID string
	service     *Service

	mu    sync.Mutex
	cache map[string]*pendingResult
}

// NewContext builds an AnalysisContext over service, scoped to operationID.
func NewContext(operationID string, service *Service) *Context {
	return &Context{operationID: operationID, service: service, cache: make(map[string]*pendingResult)}
}

// Query returns the memoised result for params, computing it at most
// once per distinct (normalised) parameter set for this Context's
// lifetime.
func (c *Context) Query(ctx context.Context, params Parameters) (Result, error) {
	key, err := hashParameters(params)
	if err != nil {
		return Result{}, errs.Wrap(errs.InputInvalid, err, "failed to hash query parameters")
	}

	c.mu.Lock()
	entry, existed := c.cache[key]
	if !existed {
		entry = &pendingResult{done: make(chan struct{})}
		c.cache[key] = entry
	}
	c.mu.Unlock()

	if existed {
		metrics.QueryCacheHits.Inc()
		<-entry.done
		return entry.result, entry.err
	}

	metrics.QueryCacheMisses.Inc()
	entry.result, entry.err = c.service.Query(ctx, params)
	close(entry.done)
	return entry.result, entry.err
}

// QuerySingle is Query with Top pinned to 1, sharing the same cache.
func (c *Context) QuerySingle(ctx context.Context, params Parameters) (map[string]any, bool, error) {
	params.Skip = 0
	params.Top = 1
	res, err := c.Query(ctx, params)
	if err != nil {
		return nil, false, err
	}
	if len(res.Data) == 0 {
		return nil, false, nil
	}
	return res.Data[0], true, nil
}

// canonical renders a filter value with canonicalised numeric types,
// so the hash is independent of whether a caller passed int or
// float64. Field order is stable because canonicalTree and
// hashParameters build maps, whose keys encoding/json writes sorted.
func canonical(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = canonical(e)
		}
		return out
	default:
		return x
	}
}

func (n FilterNode) canonicalTree() map[string]any {
	m := map[string]any{"op": string(n.Op)}
	if n.Field != "" {
		m["field"] = n.Field
	}
	if n.Value != nil {
		m["value"] = canonical(n.Value)
	}
	if len(n.Children) > 0 {
		children := make([]any, len(n.Children))
		for i, c := range n.Children {
			children[i] = c.canonicalTree()
		}
		m["children"] = children
	}
	return m
}

func hashParameters(params Parameters) (string, error) {
	orderBy := make([]map[string]any, len(params.OrderBy))
	for i, o := range params.OrderBy {
		orderBy[i] = map[string]any{"field": o.Field, "descending": o.Descending}
	}
	canonicalParams := map[string]any{
		"collection": params.Collection,
		"filter":     params.Filter.canonicalTree(),
		"orderBy":    orderBy,
		"skip":       params.Skip,
		"top":        params.Top,
	}
	b, err := json.Marshal(canonicalParams)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
