package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/litp/platform/pkg/errs"
)

// ErrNoDocuments is returned by FindOne when no document matches.
var ErrNoDocuments = errs.New(errs.NotFound, "no matching document")

// Memory is an in-process Store used by unit and integration tests. It
// interprets the same Mongo-shaped Filter map the production adapter
// hands to the driver (after translateFilter rewrites the non-Mongo
// operators), via a small predicate
// evaluator supporting the operator set §4.9 names:
// Eq/Neq/Gt/Lt/And/Or/Not/Contains/StartsWith/In/Exists/Empty.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memCollection
}

type memCollection struct {
	docs    []map[string]any
	indexes []IndexSpec
}

// NewMemory creates an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) coll(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{}
		m.collections[name] = c
	}
	return c
}

func (m *Memory) EnsureIndexes(_ context.Context, collection string, indexes []IndexSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	c.indexes = append(c.indexes, indexes...)
	return nil
}

func (m *Memory) Upsert(_ context.Context, collection string, filter Filter, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)

	for i, d := range c.docs {
		if matches(d, filter) {
			c.docs[i] = cloneDoc(doc)
			return nil
		}
	}
	c.docs = append(c.docs, cloneDoc(doc))
	return nil
}

func (m *Memory) BulkWrite(_ context.Context, collection string, ops []WriteOp) (BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)

	var res BulkResult
	for _, op := range ops {
		idx := -1
		for i, d := range c.docs {
			if matches(d, op.Filter) {
				idx = i
				break
			}
		}

		switch {
		case op.Delete:
			if idx >= 0 {
				c.docs = append(c.docs[:idx], c.docs[idx+1:]...)
				res.Deleted++
			}
		case idx >= 0:
			c.docs[idx] = cloneDoc(op.Update)
			res.Modified++
		case op.Upsert:
			c.docs = append(c.docs, cloneDoc(op.Update))
			res.Upserted++
		}
	}
	return res, nil
}

func (m *Memory) FindOne(_ context.Context, collection string, filter Filter) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	for _, d := range c.docs {
		if matches(d, filter) {
			return cloneDoc(d), nil
		}
	}
	return nil, ErrNoDocuments
}

func (m *Memory) Find(_ context.Context, collection string, filter Filter, sortSpec SortSpec, skip, limit int64) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)

	var matched []map[string]any
	for _, d := range c.docs {
		if matches(d, filter) {
			matched = append(matched, cloneDoc(d))
		}
	}

	if len(sortSpec) > 0 {
		fields := sortedKeys(sortSpec)
		sort.SliceStable(matched, func(i, j int) bool {
			for _, f := range fields {
				dir := sortSpec[f]
				c := compareValues(matched[i][f], matched[j][f])
				if c == 0 {
					continue
				}
				if dir < 0 {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if skip < 0 {
		skip = 0
	}
	if skip > int64(len(matched)) {
		skip = int64(len(matched))
	}
	matched = matched[skip:]

	if limit > 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Memory) Count(_ context.Context, collection string, filter Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	var n int64
	for _, d := range c.docs {
		if matches(d, filter) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeleteMany(_ context.Context, collection string, filter Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)

	var kept []map[string]any
	var deleted int64
	for _, d := range c.docs {
		if matches(d, filter) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return deleted, nil
}

func (m *Memory) Drop(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func cloneDoc(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func sortedKeys(m SortSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Store = (*Memory)(nil)

// --- filter evaluation -----------------------------------------------------

func matches(doc map[string]any, filter Filter) bool {
	if len(filter) == 0 {
		return true
	}
	for key, val := range filter {
		switch key {
		case "$and":
			for _, sub := range val.([]Filter) {
				if !matches(doc, sub) {
					return false
				}
			}
		case "$or":
			anyTrue := false
			for _, sub := range val.([]Filter) {
				if matches(doc, sub) {
					anyTrue = true
					break
				}
			}
			if !anyTrue {
				return false
			}
		case "$not":
			if matches(doc, val.(Filter)) {
				return false
			}
		default:
			if !matchField(doc[key], val) {
				return false
			}
		}
	}
	return true
}

func matchField(actual any, expected any) bool {
	op, ok := expected.(map[string]any)
	if !ok {
		return compareValues(actual, expected) == 0
	}

	for opName, opVal := range op {
		switch opName {
		case "$eq":
			if compareValues(actual, opVal) != 0 {
				return false
			}
		case "$ne":
			if compareValues(actual, opVal) == 0 {
				return false
			}
		case "$gt":
			if compareValues(actual, opVal) <= 0 {
				return false
			}
		case "$lt":
			if compareValues(actual, opVal) >= 0 {
				return false
			}
		case "$contains":
			s, ok1 := actual.(string)
			sub, ok2 := opVal.(string)
			if !ok1 || !ok2 || !containsSubstr(s, sub) {
				return false
			}
		case "$startsWith":
			s, ok1 := actual.(string)
			prefix, ok2 := opVal.(string)
			if !ok1 || !ok2 || !hasPrefix(s, prefix) {
				return false
			}
		case "$in":
			items, ok := opVal.([]any)
			if !ok {
				return false
			}
			found := false
			for _, item := range items {
				if compareValues(actual, item) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$exists":
			want, _ := opVal.(bool)
			if (actual != nil) != want {
				return false
			}
		case "$empty":
			want, _ := opVal.(bool)
			isEmpty := actual == nil
			if s, ok := actual.(string); ok {
				isEmpty = s == ""
			}
			if isEmpty != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func containsSubstr(s, sub string) bool {
	return len(sub) == 0 || indexOf(s, sub) >= 0
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case int:
		return compareFloat(float64(av), toFloat(b))
	case int64:
		return compareFloat(float64(av), toFloat(b))
	case float64:
		return compareFloat(av, toFloat(b))
	case bool:
		bv, _ := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	default:
		return cmpFallback(a, b)
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFallback(a, b any) int {
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
