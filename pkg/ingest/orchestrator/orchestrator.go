// Package orchestrator implements the ImportOrchestrator the dataflow
// line in §2 names: single-flight lock acquisition over the two
// ingestion phases, and ImportReport lifecycle persistence. Grounded
// on `pkg/manager/fsm.go`'s state-machine shaped operation lifecycle
// and the teacher's `go r.run()` detached-goroutine spawn in
// `pkg/reconciler/reconciler.go`'s `Start()` — the same idiom
// `pkg/cleanse/orchestrator` already applies to the cleanse side.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/litp/platform/pkg/catalogue"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/ingest/acquisition"
	"github.com/litp/platform/pkg/ingest/ingestion"
	"github.com/litp/platform/pkg/ingest/reporting"
	"github.com/litp/platform/pkg/lock"
	"github.com/litp/platform/pkg/log"
)

// LockName is the fixed distributed lock guarding one import at a
// time, globally, regardless of source type.
const LockName = "import"

// ImportsCollection mirrors reporting.ImportsCollection; declared here
// too so this package never has to import reporting just for the
// constant while reporting remains the read-side owner of its shape.
const ImportsCollection = reporting.ImportsCollection

// Prefixes names the object-store prefixes an import reads from and
// writes to, per source type.
type Prefixes struct {
	// Source maps a SourceType to the prefix AcquisitionStage lists
	// under in that source's ObjectStore.
	Source map[domain.SourceType]string
	// Target is the prefix IngestionStage catalogues under in the
	// internal target ObjectStore, shared across source types.
	Target string
}

// RangeFunc returns the catalogue date range one ingestion run should
// resolve files within. Defaults to catalogue.Today().
type RangeFunc func() catalogue.Range

// Orchestrator ties one AcquisitionStage per source type and a single
// IngestionStage together into one StartImport surface, guarded by the
// "import" lock so at most one import runs globally.
type Orchestrator struct {
	locks       *lock.Manager
	reports     docstore.Store
	acquisition map[domain.SourceType]*acquisition.Stage
	ingestion   *ingestion.Stage
	prefixes    Prefixes
	rangeFn     RangeFunc
	logger      zerolog.Logger

	// Now returns the current time; overridable in tests.
	Now func() time.Time
	// NewID returns a new import id; overridable in tests.
	NewID func() string
}

// New builds an Orchestrator. acquisitionBySource must have one Stage
// per domain.SourceType StartImport is expected to accept.
func New(locks *lock.Manager, reports docstore.Store, acquisitionBySource map[domain.SourceType]*acquisition.Stage, ingestionStage *ingestion.Stage, prefixes Prefixes, rangeFn RangeFunc) *Orchestrator {
	if rangeFn == nil {
		rangeFn = func() catalogue.Range { return catalogue.Today() }
	}
	return &Orchestrator{
		locks:       locks,
		reports:     reports,
		acquisition: acquisitionBySource,
		ingestion:   ingestionStage,
		prefixes:    prefixes,
		rangeFn:     rangeFn,
		logger:      log.WithComponent("import-orchestrator"),
		Now:         func() time.Time { return time.Now().UTC() },
		NewID:       uuid.NewString,
	}
}

// StartImport acquires the import lock, persists a Started report for
// sourceType, and launches acquisition-then-ingestion in the
// background. Returns (nil, nil) if another import already holds the
// lock, per spec.md's "StartImport returns null if unavailable".
func (o *Orchestrator) StartImport(ctx context.Context, sourceType domain.SourceType) (*domain.ImportReport, error) {
	stage, ok := o.acquisition[sourceType]
	if !ok {
		return nil, errs.Newf(errs.InputInvalid, "unknown source type %q", sourceType)
	}
	sourcePrefix, ok := o.prefixes.Source[sourceType]
	if !ok {
		return nil, errs.Newf(errs.InputInvalid, "no source prefix configured for %q", sourceType)
	}

	held, err := o.locks.Acquire(ctx, LockName)
	if err != nil {
		if errs.Is(err, errs.Conflict) {
			return nil, nil
		}
		return nil, err
	}

	now := o.Now()
	report := domain.ImportReport{
		ID:         o.NewID(),
		SourceType: sourceType,
		Status:     domain.StatusStarted,
		StartedAt:  now,
	}
	if err := o.persist(ctx, report); err != nil {
		_ = held.Release(ctx)
		return nil, err
	}

	go o.runInBackground(held, report, stage, sourcePrefix)

	result := report
	return &result, nil
}

func (o *Orchestrator) runInBackground(held *lock.Held, report domain.ImportReport, stage *acquisition.Stage, sourcePrefix string) {
	ctx := context.Background()
	defer func() { _ = held.Release(ctx) }()

	acqReport, acqErr := stage.Run(ctx, report.ID, sourcePrefix)
	report.Acquisition = acqReport
	if err := o.persist(ctx, report); err != nil {
		o.logger.Warn().Err(err).Str("import_id", report.ID).Msg("failed to persist acquisition progress")
	}

	var ingErr error
	if acqErr == nil {
		var ingReport domain.IngestionPhaseReport
		ingReport, ingErr = o.ingestion.Run(ctx, report.ID, o.prefixes.Target, o.rangeFn())
		report.Ingestion = ingReport
	}

	runErr := acqErr
	if runErr == nil {
		runErr = ingErr
	}
	status := domain.StatusCompleted
	if runErr != nil {
		status = domain.StatusFailed
	}
	report.Complete(status, runErr)

	if err := o.persist(ctx, report); err != nil {
		o.logger.Error().Err(err).Str("import_id", report.ID).Msg("failed to persist finished import report")
	}
}

func (o *Orchestrator) persist(ctx context.Context, r domain.ImportReport) error {
	return o.reports.Upsert(ctx, ImportsCollection, docstore.Filter{"_id": r.ID}, toDoc(r))
}

func toDoc(r domain.ImportReport) map[string]any {
	doc := map[string]any{
		"_id":         r.ID,
		"source_type": string(r.SourceType),
		"status":      string(r.Status),
		"started_at":  r.StartedAt,
		"error":       r.Error,
		"acquisition": phaseDoc(r.Acquisition),
		"ingestion":   ingestionPhaseDoc(r.Ingestion),
	}
	if r.CompletedAt != nil {
		doc["completed_at"] = *r.CompletedAt
	}
	return doc
}

func phaseDoc(p domain.AcquisitionPhaseReport) map[string]any {
	d := map[string]any{
		"status":           string(p.Status),
		"files_discovered": p.FilesDiscovered,
		"files_processed":  p.FilesProcessed,
		"files_skipped":    p.FilesSkipped,
		"files_failed":     p.FilesFailed,
	}
	if p.StartedAt != nil {
		d["started_at"] = *p.StartedAt
	}
	if p.CompletedAt != nil {
		d["completed_at"] = *p.CompletedAt
	}
	return d
}

func ingestionPhaseDoc(p domain.IngestionPhaseReport) map[string]any {
	d := map[string]any{
		"status":           string(p.Status),
		"files_discovered": p.FilesDiscovered,
		"files_processed":  p.FilesProcessed,
		"files_skipped":    p.FilesSkipped,
		"files_failed":     p.FilesFailed,
		"records_created":  p.RecordsCreated,
		"records_updated":  p.RecordsUpdated,
		"records_deleted":  p.RecordsDeleted,
	}
	if p.StartedAt != nil {
		d["started_at"] = *p.StartedAt
	}
	if p.CompletedAt != nil {
		d["completed_at"] = *p.CompletedAt
	}
	return d
}
