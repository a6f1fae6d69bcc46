package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/docstore"
)

func TestAcquisitionSeenFalseWhenAbsent(t *testing.T) {
	store := docstore.NewMemory()
	d := New(store)

	seen, err := d.AcquisitionSeen(context.Background(), "key-1", "etag-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestAcquisitionSeenTrueAfterRecordedReport(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	d := New(store)

	require.NoError(t, store.Upsert(ctx, Collection, docstore.Filter{"_id": "import-1:key-1"}, map[string]any{
		"_id":          "import-1:key-1",
		"file_key":     "key-1",
		"e_tag":        "etag-1",
		"acquisition":  map[string]any{"source_key": "key-1.enc"},
	}))

	seen, err := d.AcquisitionSeen(ctx, "key-1", "etag-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.IngestionSeen(ctx, "key-1", "etag-1")
	require.NoError(t, err)
	assert.False(t, seen, "ingestion has not happened yet for this file")
}

func TestIngestionSeenTrueAfterRecordedReport(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	d := New(store)

	require.NoError(t, store.Upsert(ctx, Collection, docstore.Filter{"_id": "import-1:key-1"}, map[string]any{
		"_id":       "import-1:key-1",
		"file_key":  "key-1",
		"e_tag":     "etag-1",
		"ingestion": map[string]any{"records_processed": 10},
	}))

	seen, err := d.IngestionSeen(ctx, "key-1", "etag-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestDifferentETagIsNotSeen(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	d := New(store)

	require.NoError(t, store.Upsert(ctx, Collection, docstore.Filter{"_id": "import-1:key-1"}, map[string]any{
		"_id":         "import-1:key-1",
		"file_key":    "key-1",
		"e_tag":       "etag-1",
		"acquisition": map[string]any{"source_key": "key-1.enc"},
	}))

	seen, err := d.AcquisitionSeen(ctx, "key-1", "etag-2")
	require.NoError(t, err)
	assert.False(t, seen)
}
