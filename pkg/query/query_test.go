package query

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/docstore"
)

func seedWidgets(t *testing.T, store docstore.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		require.NoError(t, store.Upsert(ctx, "widgets", docstore.Filter{"_id": id}, map[string]any{
			"_id": id, "size": i,
		}))
	}
}

func TestQueryGtFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedWidgets(t, store, 5)
	s := NewService(store)

	res, err := s.Query(ctx, Parameters{
		Collection: "widgets",
		Filter:     FilterNode{Op: OpGt, Field: "size", Value: 1},
		OrderBy:    []OrderSpec{{Field: "size"}},
		Skip:       0,
		Top:        2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.TotalCount)
	assert.Len(t, res.Data, 2)
	assert.True(t, res.HasMore)
}

func TestQuerySingleReturnsFalseWhenNoMatch(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	s := NewService(store)

	_, ok, err := s.QuerySingle(ctx, Parameters{Collection: "widgets", Filter: FilterNode{Op: OpEq, Field: "size", Value: 99}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAndNotTranslateCorrectly(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedWidgets(t, store, 5)
	s := NewService(store)

	res, err := s.Query(ctx, Parameters{
		Collection: "widgets",
		Filter: FilterNode{Op: OpAnd, Children: []FilterNode{
			{Op: OpGt, Field: "size", Value: 0},
			{Op: OpNot, Children: []FilterNode{{Op: OpEq, Field: "size", Value: 4}}},
		}},
		Top: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.TotalCount) // sizes 1,2,3 (not 0, not 4)
}

func TestContextMemoizesEqualParameters(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedWidgets(t, store, 3)
	svc := NewService(store)
	ac := NewContext("op-1", svc)

	params := Parameters{Collection: "widgets", Filter: FilterNode{Op: OpGt, Field: "size", Value: 0}, Top: 10}
	first, err := ac.Query(ctx, params)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, "widgets", docstore.Filter{"_id": "new"}, map[string]any{"_id": "new", "size": 99}))

	second, err := ac.Query(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, first.TotalCount, second.TotalCount, "cached result must not see writes made after the first Query")
}

func TestContextDistinguishesDifferentParameters(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedWidgets(t, store, 3)
	svc := NewService(store)
	ac := NewContext("op-1", svc)

	r1, err := ac.Query(ctx, Parameters{Collection: "widgets", Filter: FilterNode{Op: OpGt, Field: "size", Value: 0}, Top: 10})
	require.NoError(t, err)
	r2, err := ac.Query(ctx, Parameters{Collection: "widgets", Filter: FilterNode{Op: OpGt, Field: "size", Value: 1}, Top: 10})
	require.NoError(t, err)
	assert.NotEqual(t, r1.TotalCount, r2.TotalCount)
}

func TestContextNumericCanonicalisationHashesEqual(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedWidgets(t, store, 3)
	svc := NewService(store)
	ac := NewContext("op-1", svc)

	var calls int32
	countingStore := &countingFind{Store: store, calls: &calls}
	ac2 := NewContext("op-2", NewService(countingStore))

	_, err := ac2.Query(ctx, Parameters{Collection: "widgets", Filter: FilterNode{Op: OpGt, Field: "size", Value: int(1)}, Top: 10})
	require.NoError(t, err)
	_, err = ac2.Query(ctx, Parameters{Collection: "widgets", Filter: FilterNode{Op: OpGt, Field: "size", Value: float64(1)}, Top: 10})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "int(1) and float64(1) must hash to the same cache key")
}

func TestContextConcurrentEqualQueriesShareOneUnderlyingRead(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedWidgets(t, store, 3)

	var calls int32
	countingStore := &countingFind{Store: store, calls: &calls}
	ac := NewContext("op-1", NewService(countingStore))

	params := Parameters{Collection: "widgets", Filter: FilterNode{Op: OpGt, Field: "size", Value: 0}, Top: 10}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ac.Query(ctx, params)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// countingFind wraps a Store and counts Find calls, to prove the
// cache collapses concurrent/duplicate reads into one underlying call.
type countingFind struct {
	docstore.Store
	calls *int32
}

func (c *countingFind) Find(ctx context.Context, collection string, filter docstore.Filter, sort docstore.SortSpec, skip, limit int64) ([]map[string]any, error) {
	atomic.AddInt32(c.calls, 1)
	return c.Store.Find(ctx, collection, filter, sort, skip, limit)
}
