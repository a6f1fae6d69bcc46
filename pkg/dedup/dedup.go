// Package dedup answers the one question both pipeline stages ask
// before doing expensive work on a file: has this exact
// (fileKey, eTag) already been fully processed by a prior successful
// run? Grounded on the teacher's GetXByName-style single-purpose
// lookup methods (pkg/storage/store.go) — a thin, single-method
// query object rather than a general repository.
package dedup

import (
	"context"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/errs"
)

// Collection is the fixed DocumentStore collection holding one
// FileProcessingReport per (importId, fileKey).
const Collection = "import_files"

// Deduper checks prior FileProcessingReport outcomes.
type Deduper struct {
	store docstore.Store
}

// New builds a Deduper over store.
func New(store docstore.Store) *Deduper {
	return &Deduper{store: store}
}

// AcquisitionSeen reports whether (fileKey, eTag) already has a
// report with a completed acquisition detail from any prior import.
func (d *Deduper) AcquisitionSeen(ctx context.Context, fileKey, eTag string) (bool, error) {
	return d.seen(ctx, fileKey, eTag, "acquisition")
}

// IngestionSeen reports whether (fileKey, eTag) already has a report
// with a completed ingestion detail from any prior import.
func (d *Deduper) IngestionSeen(ctx context.Context, fileKey, eTag string) (bool, error) {
	return d.seen(ctx, fileKey, eTag, "ingestion")
}

func (d *Deduper) seen(ctx context.Context, fileKey, eTag, phaseField string) (bool, error) {
	_, err := d.store.FindOne(ctx, Collection, docstore.Filter{
		"file_key": fileKey,
		"e_tag":    eTag,
		phaseField: map[string]any{"$exists": true},
	})
	if err == nil {
		return true, nil
	}
	if errs.Is(err, errs.NotFound) {
		return false, nil
	}
	return false, err
}
