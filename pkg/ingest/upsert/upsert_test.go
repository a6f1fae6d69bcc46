package upsert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
)

func newEngine(t *testing.T, at time.Time) (*Engine, docstore.Store) {
	t.Helper()
	store := docstore.NewMemory()
	e := New(store)
	e.Now = func() time.Time { return at }
	return e, store
}

func TestAbsentPlusInsertCreates(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e, store := newEngine(t, t0)

	res, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "12/345/0001"}, ChangeType: domain.ChangeInsert},
	}, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventCreated, res.Events[0].EventType)
	assert.Nil(t, res.Events[0].PreviousValues)

	doc, err := store.FindOne(ctx, "animals", docstore.Filter{"_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, t0, doc[FieldCreatedAt])
	assert.Equal(t, t0, doc[FieldUpdatedAt])
	assert.Equal(t, false, doc[FieldIsDeleted])
}

func TestAbsentPlusUpdateAlsoCreates(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, time.Now().UTC())

	res, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "x"}, ChangeType: domain.ChangeUpdate},
	}, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestAbsentPlusDeleteIsNoOp(t *testing.T) {
	ctx := context.Background()
	e, store := newEngine(t, time.Now().UTC())

	res, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{}, ChangeType: domain.ChangeDelete},
	}, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	n, _ := store.Count(ctx, "animals", docstore.Filter{})
	assert.Equal(t, int64(0), n)
}

func seedActive(t *testing.T, ctx context.Context, e *Engine, at time.Time) {
	t.Helper()
	_, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "first"}, ChangeType: domain.ChangeInsert},
	}, "import-0", "file-0", nil)
	require.NoError(t, err)
}

func TestActivePlusInsertUpdates(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	e, store := newEngine(t, t0)
	seedActive(t, ctx, e, t0)

	e.Now = func() time.Time { return t1 }
	res, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "second"}, ChangeType: domain.ChangeInsert},
	}, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	doc, err := store.FindOne(ctx, "animals", docstore.Filter{"_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, t0, doc[FieldCreatedAt], "CreatedAtUtc must be preserved across updates")
	assert.Equal(t, t1, doc[FieldUpdatedAt])
	assert.Equal(t, "second", doc["Cph"])
}

func TestActivePlusUpdateUpdates(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, time.Now().UTC())
	seedActive(t, ctx, e, time.Now().UTC())

	res, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "third"}, ChangeType: domain.ChangeUpdate},
	}, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
}

func TestActivePlusDeleteSoftDeletes(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	e, store := newEngine(t, t0)
	seedActive(t, ctx, e, t0)

	e.Now = func() time.Time { return t1 }
	res, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{}, ChangeType: domain.ChangeDelete},
	}, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	require.Len(t, res.Events, 1)
	assert.Nil(t, res.Events[0].NewValues, "Deleted events carry no new values")

	doc, err := store.FindOne(ctx, "animals", docstore.Filter{"_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, true, doc[FieldIsDeleted])
	assert.Equal(t, t1, doc[FieldDeletedAt])
}

func seedDeleted(t *testing.T, ctx context.Context, e *Engine, t0, t1 time.Time) {
	t.Helper()
	e.Now = func() time.Time { return t0 }
	_, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "first"}, ChangeType: domain.ChangeInsert},
	}, "import-0", "file-0", nil)
	require.NoError(t, err)

	e.Now = func() time.Time { return t1 }
	_, err = e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{}, ChangeType: domain.ChangeDelete},
	}, "import-0", "file-0", nil)
	require.NoError(t, err)
}

func TestDeletedPlusInsertIsNoOp(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	e, store := newEngine(t, t0)
	seedDeleted(t, ctx, e, t0, t1)

	e.Now = func() time.Time { return t1.Add(time.Hour) }
	res, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "should-not-apply"}, ChangeType: domain.ChangeInsert},
	}, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	doc, err := store.FindOne(ctx, "animals", docstore.Filter{"_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, true, doc[FieldIsDeleted], "record should remain deleted")
}

func TestDeletedPlusUpdateUndeletes(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)
	e, store := newEngine(t, t0)
	seedDeleted(t, ctx, e, t0, t1)

	e.Now = func() time.Time { return t2 }
	res, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "revived"}, ChangeType: domain.ChangeUpdate},
	}, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Undeleted)

	doc, err := store.FindOne(ctx, "animals", docstore.Filter{"_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, false, doc[FieldIsDeleted])
	_, hasDeletedAt := doc[FieldDeletedAt]
	assert.False(t, hasDeletedAt, "DeletedAtUtc key should be absent after undelete")
	assert.Equal(t, t0, doc[FieldCreatedAt], "CreatedAtUtc must survive undelete")
	assert.Equal(t, t2, doc[FieldUpdatedAt])
}

func TestDeletedPlusDeleteIsNoOp(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	e, store := newEngine(t, t0)
	seedDeleted(t, ctx, e, t0, t1)

	res, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{}, ChangeType: domain.ChangeDelete},
	}, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	doc, err := store.FindOne(ctx, "animals", docstore.Filter{"_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, t1, doc[FieldDeletedAt], "DeletedAtUtc should not change on a no-op delete")
}

func TestAccumulatorColumnsUnionAcrossImports(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e, store := newEngine(t, t0)

	_, err := e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "x", "Tag": "A"}, ChangeType: domain.ChangeInsert},
	}, "import-1", "file-1", []string{"Tag"})
	require.NoError(t, err)

	e.Now = func() time.Time { return t0.Add(time.Hour) }
	_, err = e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "x", "Tag": "B"}, ChangeType: domain.ChangeUpdate},
	}, "import-2", "file-2", []string{"Tag"})
	require.NoError(t, err)

	doc, err := store.FindOne(ctx, "animals", docstore.Filter{"_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, doc["Tag"])

	// Re-applying the same tag must not duplicate it.
	e.Now = func() time.Time { return t0.Add(2 * time.Hour) }
	_, err = e.Apply(ctx, "animals", []Row{
		{RecordID: "r1", Columns: map[string]string{"Cph": "x", "Tag": "B"}, ChangeType: domain.ChangeUpdate},
	}, "import-3", "file-3", []string{"Tag"})
	require.NoError(t, err)

	doc, err = store.FindOne(ctx, "animals", docstore.Filter{"_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, doc["Tag"])
}

func TestEmptyBatchIsNoOp(t *testing.T) {
	e, _ := newEngine(t, time.Now().UTC())
	res, err := e.Apply(context.Background(), "animals", nil, "import-1", "file-1", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
