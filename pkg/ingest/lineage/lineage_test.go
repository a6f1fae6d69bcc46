package lineage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/ingest/upsert"
)

func TestRecordCreatesRollupWithFirstWriteWinsCreation(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	r := New(store)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Now = func() time.Time { return t0 }

	events := []upsert.Event{
		{RecordID: "r1", EventType: domain.EventCreated, ChangeType: domain.ChangeInsert, NewValues: map[string]any{"Cph": "x"}},
	}
	require.NoError(t, r.Record(ctx, "animals", events, "import-1", "file-1"))

	rollup, err := store.FindOne(ctx, RollupCollection, docstore.Filter{"_id": "animals/r1"})
	require.NoError(t, err)
	assert.Equal(t, "import-1", rollup["created_by_import"])
	assert.Equal(t, t0, rollup["created_at"])
	assert.Equal(t, string(domain.LineageActive), rollup["current_status"])

	n, err := store.Count(ctx, EventsCollection, docstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordLastWriteWinsOnSubsequentUpdate(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	r := New(store)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	r.Now = func() time.Time { return t0 }
	require.NoError(t, r.Record(ctx, "animals", []upsert.Event{
		{RecordID: "r1", EventType: domain.EventCreated, ChangeType: domain.ChangeInsert, NewValues: map[string]any{"Cph": "x"}},
	}, "import-1", "file-1"))

	r.Now = func() time.Time { return t1 }
	require.NoError(t, r.Record(ctx, "animals", []upsert.Event{
		{RecordID: "r1", EventType: domain.EventUpdated, ChangeType: domain.ChangeUpdate, NewValues: map[string]any{"Cph": "y"}},
	}, "import-2", "file-2"))

	rollup, err := store.FindOne(ctx, RollupCollection, docstore.Filter{"_id": "animals/r1"})
	require.NoError(t, err)
	assert.Equal(t, "import-1", rollup["created_by_import"], "creation attribution must not move")
	assert.Equal(t, t0, rollup["created_at"])
	assert.Equal(t, "import-2", rollup["last_modified_by_import"])
	assert.Equal(t, t1, rollup["last_modified_at"])

	n, err := store.Count(ctx, EventsCollection, docstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRecordDeletedSetsRollupStatus(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	r := New(store)

	require.NoError(t, r.Record(ctx, "animals", []upsert.Event{
		{RecordID: "r1", EventType: domain.EventCreated, ChangeType: domain.ChangeInsert, NewValues: map[string]any{"Cph": "x"}},
	}, "import-1", "file-1"))
	require.NoError(t, r.Record(ctx, "animals", []upsert.Event{
		{RecordID: "r1", EventType: domain.EventDeleted, ChangeType: domain.ChangeDelete, PreviousValues: map[string]any{"Cph": "x"}},
	}, "import-2", "file-2"))

	rollup, err := store.FindOne(ctx, RollupCollection, docstore.Filter{"_id": "animals/r1"})
	require.NoError(t, err)
	assert.Equal(t, string(domain.LineageDeleted), rollup["current_status"])
}

func TestRecordNoEventsIsNoOp(t *testing.T) {
	store := docstore.NewMemory()
	r := New(store)
	require.NoError(t, r.Record(context.Background(), "animals", nil, "import-1", "file-1"))

	n, err := store.Count(context.Background(), EventsCollection, docstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
