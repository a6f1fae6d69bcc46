// Package export implements the Exporter §4.12 describes: page
// through every active issue, emit a CSV inside a zip, write it to
// the report sink, and return a presigned URL. Grounded on
// `pkg/ingest/reporting`'s Find-then-paginate shape, with the archive
// format itself on stdlib `archive/zip`/`encoding/csv` — no corpus
// repo imports a third-party archive or CSV library, so this is the
// stdlib-justified exception for this component.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/litp/platform/pkg/cleanse/issues"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/objectstore"
)

// ReportFileName is the CSV entry name inside the produced zip.
const ReportFileName = "cleanse-report.csv"

// DefaultPageSize bounds how many issue documents Export reads at once.
const DefaultPageSize = 500

var csvHeader = []string{
	"id", "code", "ruleCode", "errorCode", "ctsLidFullIdentifier", "cph",
	"createdAt", "lastUpdatedAt", "resolutionStatus", "assignedTo",
}

// Exporter reads active issues from store and writes a zipped CSV to
// sink, keyed by operation id, returning a presigned URL.
type Exporter struct {
	store    docstore.Store
	sink     objectstore.Writer
	PageSize int64
}

// New builds an Exporter. PageSize defaults to DefaultPageSize.
func New(store docstore.Store, sink objectstore.Writer) *Exporter {
	return &Exporter{store: store, sink: sink, PageSize: DefaultPageSize}
}

// Result is what one Export call produced.
type Result struct {
	ObjectKey  string
	URL        string
	IssueCount int
}

// Export writes every currently active issue to a CSV inside a zip at
// "cleanse-reports/<operationID>.zip" and returns its object key and a
// presigned URL. It always produces a valid zip/csv pair, even when
// zero issues are active, so a caller never has to special-case an
// empty report.
func (e *Exporter) Export(ctx context.Context, operationID string) (Result, error) {
	pageSize := e.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	csvEntry, err := zw.Create(ReportFileName)
	if err != nil {
		return Result{}, fmt.Errorf("export: create csv entry: %w", err)
	}
	cw := csv.NewWriter(csvEntry)
	if err := cw.Write(csvHeader); err != nil {
		return Result{}, fmt.Errorf("export: write csv header: %w", err)
	}

	count := 0
	var skip int64
	for {
		docs, err := e.store.Find(ctx, issues.Collection, docstore.Filter{"is_active": true},
			docstore.SortSpec{"cts_lid_full_identifier": 1}, skip, pageSize)
		if err != nil {
			return Result{}, fmt.Errorf("export: list active issues: %w", err)
		}
		for _, d := range docs {
			if err := cw.Write(row(d)); err != nil {
				return Result{}, fmt.Errorf("export: write csv row: %w", err)
			}
			count++
		}
		skip += int64(len(docs))
		if int64(len(docs)) < pageSize {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return Result{}, fmt.Errorf("export: flush csv: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("export: close zip: %w", err)
	}

	key := fmt.Sprintf("cleanse-reports/%s.zip", operationID)
	if err := e.sink.Upload(ctx, key, buf.Bytes(), "application/zip", nil); err != nil {
		return Result{}, fmt.Errorf("export: upload report: %w", err)
	}
	url, err := e.sink.Presign(key, objectstore.DefaultPresignTTL)
	if err != nil {
		return Result{}, fmt.Errorf("export: presign report: %w", err)
	}
	return Result{ObjectKey: key, URL: url, IssueCount: count}, nil
}

func row(d map[string]any) []string {
	str := func(v any) string {
		s, _ := v.(string)
		return s
	}
	ts := func(v any) string {
		type stringer interface{ String() string }
		if s, ok := v.(stringer); ok {
			return s.String()
		}
		return ""
	}
	return []string{
		str(d["_id"]), str(d["code"]), str(d["rule_code"]), str(d["error_code"]),
		str(d["cts_lid_full_identifier"]), str(d["cph"]),
		ts(d["created_at"]), ts(d["last_updated_at"]),
		str(d["resolution_status"]), str(d["assigned_to"]),
	}
}
