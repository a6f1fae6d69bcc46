package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/cleanse/issues"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/objectstore"
)

func readZippedCSV(t *testing.T, raw []byte) [][]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, ReportFileName, zr.File[0].Name)

	f, err := zr.File[0].Open()
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExportProducesValidZipForZeroIssues(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	sink := objectstore.NewMemory("reports")
	e := New(store, sink)

	res, err := e.Export(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.IssueCount)
	assert.Equal(t, "cleanse-reports/op-1.zip", res.ObjectKey)
	assert.NotEmpty(t, res.URL)

	raw, err := sink.GetMetadata(ctx, res.ObjectKey)
	require.NoError(t, err)
	assert.Greater(t, raw.Size, int64(0))

	rc, err := sink.OpenRead(ctx, res.ObjectKey)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)

	rows := readZippedCSV(t, body)
	require.Len(t, rows, 1, "header row only")
	assert.Equal(t, csvHeader, rows[0])
}

func TestExportOnlyIncludesActiveIssues(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	sink := objectstore.NewMemory("reports")
	e := New(store, sink)
	repo := issues.New(store)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := repo.Upsert(ctx, "MISSING_SAM", "R1", "E1", "12/345/0001", "12/345", nil, now)
	require.NoError(t, err)
	_, _, err = repo.Upsert(ctx, "MISSING_SAM", "R1", "E1", "12/345/0002", "12/345", nil, now)
	require.NoError(t, err)

	_, err = repo.DeactivateAllActiveExcept(ctx, "MISSING_SAM", []string{"12/345/0001"})
	require.NoError(t, err)

	res, err := e.Export(ctx, "op-2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssueCount)

	rc, err := sink.OpenRead(ctx, res.ObjectKey)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)

	rows := readZippedCSV(t, body)
	require.Len(t, rows, 2)
	assert.Equal(t, "12/345/0001", rows[1][4])
}
