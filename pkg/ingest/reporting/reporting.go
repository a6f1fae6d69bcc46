// Package reporting implements the ReportingService §2 names: thin,
// paginated import/file/record-level reads over the collections the
// ingestion pipeline itself writes. Grounded on the teacher's
// `pkg/storage/store.go` List* method family — a read-only projection
// over DocumentStore, no business logic of its own.
package reporting

import (
	"context"
	"time"

	"github.com/litp/platform/pkg/dedup"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/ingest/lineage"
)

// ImportsCollection holds one ImportReport per end-to-end import run.
const ImportsCollection = "import_reports"

// Page is a generic paginated result.
type Page[T any] struct {
	Data       []T
	TotalCount int64
	Skip       int64
	Top        int64
	HasMore    bool
}

// Service answers paginated reads against the ingestion pipeline's
// own collections. It never mutates anything.
type Service struct {
	store docstore.Store
}

// New builds a Service reading through store.
func New(store docstore.Store) *Service {
	return &Service{store: store}
}

// ListImports returns import summaries ordered most-recent-first.
func (s *Service) ListImports(ctx context.Context, skip, top int64) (Page[domain.ImportReport], error) {
	docs, err := s.store.Find(ctx, ImportsCollection, docstore.Filter{}, docstore.SortSpec{"started_at": -1}, skip, top)
	if err != nil {
		return Page[domain.ImportReport]{}, err
	}
	total, err := s.store.Count(ctx, ImportsCollection, docstore.Filter{})
	if err != nil {
		return Page[domain.ImportReport]{}, err
	}
	out := make([]domain.ImportReport, 0, len(docs))
	for _, d := range docs {
		out = append(out, toImportReport(d))
	}
	return newPage(out, total, skip, top), nil
}

// GetImport returns the full report for one import.
func (s *Service) GetImport(ctx context.Context, importID string) (domain.ImportReport, error) {
	doc, err := s.store.FindOne(ctx, ImportsCollection, docstore.Filter{"_id": importID})
	if err != nil {
		return domain.ImportReport{}, err
	}
	return toImportReport(doc), nil
}

// ListFiles returns the per-file reports belonging to one import.
func (s *Service) ListFiles(ctx context.Context, importID string, skip, top int64) (Page[domain.FileProcessingReport], error) {
	filter := docstore.Filter{"import_id": importID}
	docs, err := s.store.Find(ctx, dedup.Collection, filter, docstore.SortSpec{"file_key": 1}, skip, top)
	if err != nil {
		return Page[domain.FileProcessingReport]{}, err
	}
	total, err := s.store.Count(ctx, dedup.Collection, filter)
	if err != nil {
		return Page[domain.FileProcessingReport]{}, err
	}
	out := make([]domain.FileProcessingReport, 0, len(docs))
	for _, d := range docs {
		out = append(out, toFileReport(d))
	}
	return newPage(out, total, skip, top), nil
}

// GetRecordLineage returns the lifecycle rollup for one record.
func (s *Service) GetRecordLineage(ctx context.Context, collection, recordID string) (domain.RecordLineage, error) {
	doc, err := s.store.FindOne(ctx, lineage.RollupCollection, docstore.Filter{"_id": collection + "/" + recordID})
	if err != nil {
		return domain.RecordLineage{}, err
	}
	return toRecordLineage(doc), nil
}

// ListRecordEvents returns one record's append-only event history,
// oldest first.
func (s *Service) ListRecordEvents(ctx context.Context, collection, recordID string, skip, top int64) (Page[domain.RecordLineageEvent], error) {
	filter := docstore.Filter{"collection": collection, "record_id": recordID}
	docs, err := s.store.Find(ctx, lineage.EventsCollection, filter, docstore.SortSpec{"event_date": 1}, skip, top)
	if err != nil {
		return Page[domain.RecordLineageEvent]{}, err
	}
	total, err := s.store.Count(ctx, lineage.EventsCollection, filter)
	if err != nil {
		return Page[domain.RecordLineageEvent]{}, err
	}
	out := make([]domain.RecordLineageEvent, 0, len(docs))
	for _, d := range docs {
		out = append(out, toLineageEvent(d))
	}
	return newPage(out, total, skip, top), nil
}

func newPage[T any](data []T, total, skip, top int64) Page[T] {
	return Page[T]{
		Data:       data,
		TotalCount: total,
		Skip:       skip,
		Top:        top,
		HasMore:    skip+int64(len(data)) < total,
	}
}

func toImportReport(d map[string]any) domain.ImportReport {
	r := domain.ImportReport{
		ID:         str(d["_id"]),
		SourceType: domain.SourceType(str(d["source_type"])),
		Status:     domain.RunStatus(str(d["status"])),
		StartedAt:  tm(d["started_at"]),
		Error:      str(d["error"]),
	}
	if completed := tmPtr(d["completed_at"]); completed != nil {
		r.CompletedAt = completed
	}
	if acq, ok := d["acquisition"].(map[string]any); ok {
		r.Acquisition = toAcquisitionPhase(acq)
	}
	if ing, ok := d["ingestion"].(map[string]any); ok {
		r.Ingestion = toIngestionPhase(ing)
	}
	return r
}

func toAcquisitionPhase(d map[string]any) domain.AcquisitionPhaseReport {
	return domain.AcquisitionPhaseReport{
		Status:          domain.RunStatus(str(d["status"])),
		StartedAt:       tmPtr(d["started_at"]),
		CompletedAt:     tmPtr(d["completed_at"]),
		FilesDiscovered: i(d["files_discovered"]),
		FilesProcessed:  i(d["files_processed"]),
		FilesSkipped:    i(d["files_skipped"]),
		FilesFailed:     i(d["files_failed"]),
	}
}

func toIngestionPhase(d map[string]any) domain.IngestionPhaseReport {
	return domain.IngestionPhaseReport{
		Status:          domain.RunStatus(str(d["status"])),
		StartedAt:       tmPtr(d["started_at"]),
		CompletedAt:     tmPtr(d["completed_at"]),
		FilesDiscovered: i(d["files_discovered"]),
		FilesProcessed:  i(d["files_processed"]),
		FilesSkipped:    i(d["files_skipped"]),
		FilesFailed:     i(d["files_failed"]),
		RecordsCreated:  i(d["records_created"]),
		RecordsUpdated:  i(d["records_updated"]),
		RecordsDeleted:  i(d["records_deleted"]),
	}
}

func toFileReport(d map[string]any) domain.FileProcessingReport {
	r := domain.FileProcessingReport{
		ImportID:    str(d["import_id"]),
		FileName:    str(d["file_name"]),
		FileKey:     str(d["file_key"]),
		DatasetName: str(d["dataset_name"]),
		MD5:         str(d["md5"]),
		ETag:        str(d["e_tag"]),
		FileSize:    i64(d["file_size"]),
		Status:      domain.FileStatus(str(d["status"])),
		Error:       str(d["error"]),
	}
	if acq, ok := d["acquisition"].(map[string]any); ok {
		r.Acquisition = &domain.AcquisitionFileDetail{
			SourceKey:            str(acq["source_key"]),
			DecryptionDurationMs: i64(acq["decryption_duration_ms"]),
			AcquiredAt:           tm(acq["acquired_at"]),
		}
	}
	if ing, ok := d["ingestion"].(map[string]any); ok {
		r.Ingestion = &domain.IngestionFileDetail{
			RecordsProcessed:    i(ing["records_processed"]),
			RecordsCreated:      i(ing["records_created"]),
			RecordsUpdated:      i(ing["records_updated"]),
			RecordsDeleted:      i(ing["records_deleted"]),
			IngestionDurationMs: i64(ing["ingestion_duration_ms"]),
			IngestedAt:          tm(ing["ingested_at"]),
		}
	}
	return r
}

func toRecordLineage(d map[string]any) domain.RecordLineage {
	return domain.RecordLineage{
		RecordID:             str(d["record_id"]),
		Collection:           str(d["collection"]),
		CurrentStatus:        domain.LineageStatus(str(d["current_status"])),
		CreatedByImport:      str(d["created_by_import"]),
		LastModifiedByImport: str(d["last_modified_by_import"]),
		CreatedAt:            tm(d["created_at"]),
		LastModifiedAt:       tm(d["last_modified_at"]),
	}
}

func toLineageEvent(d map[string]any) domain.RecordLineageEvent {
	ev := domain.RecordLineageEvent{
		EventType:  domain.LineageEventType(str(d["event_type"])),
		ImportID:   str(d["import_id"]),
		FileKey:    str(d["file_key"]),
		EventDate:  tm(d["event_date"]),
		ChangeType: domain.ChangeType(str(d["change_type"])),
	}
	if pv, ok := d["previous_values"].(map[string]any); ok {
		ev.PreviousValues = pv
	}
	if nv, ok := d["new_values"].(map[string]any); ok {
		ev.NewValues = nv
	}
	return ev
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func i(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func i64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func tm(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}

func tmPtr(v any) *time.Time {
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return nil
	}
	return &t
}
