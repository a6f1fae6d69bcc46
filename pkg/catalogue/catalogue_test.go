package catalogue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/objectstore"
	"github.com/litp/platform/pkg/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	reg, err := registry.New([]domain.DatasetDefinition{
		{
			Name:              "PERSONS",
			FilePrefix:        "LITP_PERSONS_{0}",
			DatePattern:       "20060102150405",
			PrimaryKeyColumns: []string{"PersonId"},
		},
	})
	require.NoError(t, err)
	return reg
}

func TestResolveFiltersByDateRangeAndGroupsByDataset(t *testing.T) {
	store := objectstore.NewMemory("target")
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "LITP_PERSONS_20240101120000.csv", []byte("a"), "text/csv", nil))
	require.NoError(t, store.Upload(ctx, "LITP_PERSONS_20240103120000.csv", []byte("b"), "text/csv", nil))
	require.NoError(t, store.Upload(ctx, "unrelated_file.csv", []byte("c"), "text/csv", nil))

	cat := New(store, testRegistry(t))
	r := Range{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	matches, err := cat.Resolve(ctx, "", r)
	require.NoError(t, err)
	require.Len(t, matches["PERSONS"], 1)
	assert.Equal(t, "LITP_PERSONS_20240101120000.csv", matches["PERSONS"][0].Object.Key)
}

func TestResolveOrdersByLastModifiedDescThenKeyAsc(t *testing.T) {
	store := objectstore.NewMemory("target")
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "LITP_PERSONS_20240101090000.csv", []byte("a"), "text/csv", nil))
	require.NoError(t, store.Upload(ctx, "LITP_PERSONS_20240101100000.csv", []byte("b"), "text/csv", nil))

	cat := New(store, testRegistry(t))
	r := Range{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	matches, err := cat.Resolve(ctx, "", r)
	require.NoError(t, err)
	require.Len(t, matches["PERSONS"], 2)
	assert.Equal(t, "LITP_PERSONS_20240101100000.csv", matches["PERSONS"][0].Object.Key)
}

func TestTodayAndLastN(t *testing.T) {
	today := Today()
	assert.True(t, today.From.Equal(today.To))

	last7 := LastN(7)
	assert.Equal(t, today.From, last7.To)
	assert.Equal(t, today.From.AddDate(0, 0, -6), last7.From)
}
