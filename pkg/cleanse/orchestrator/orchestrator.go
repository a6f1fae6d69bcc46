// Package orchestrator implements the CleanseOrchestrator §4.12
// describes: single-flight lock acquisition, a background task that
// runs every registered strategy then exports and notifies, and
// operation lifecycle persistence. Grounded on `pkg/manager/fsm.go`'s
// state-machine shaped operation lifecycle and the teacher's
// `go r.run()` detached-goroutine spawn in
// `pkg/reconciler/reconciler.go`'s `Start()`.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/litp/platform/pkg/cleanse/export"
	"github.com/litp/platform/pkg/cleanse/strategy"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/lock"
	"github.com/litp/platform/pkg/log"
	"github.com/litp/platform/pkg/notify"
	"github.com/litp/platform/pkg/query"
)

// LockName is the fixed distributed lock guarding one cleanse
// analysis run at a time.
const LockName = "cleanse-analysis"

// OperationsCollection holds one CleanseAnalysisOperation per run.
const OperationsCollection = "cleanse_analysis_operations"

// Strategy is anything an orchestrator can run as one stage of an
// analysis. *strategy.Strategy[I] satisfies this for any I, since its
// Run method signature doesn't depend on the type parameter.
type Strategy interface {
	Run(ctx context.Context, qc *query.Context) (strategy.Result, error)
}

// Orchestrator ties the locks, strategies, exporter, and notifier
// together into one StartAnalysis/RegenerateReportUrl surface.
type Orchestrator struct {
	locks      *lock.Manager
	store      docstore.Store
	querySvc   *query.Service
	exporter   *export.Exporter
	notifier   notify.Sink
	strategies []Strategy
	logger     zerolog.Logger

	// Now returns the current time; overridable in tests.
	Now func() time.Time
	// NewID returns a new operation id; overridable in tests.
	NewID func() string
}

// New builds an Orchestrator running strategies in the given order.
func New(locks *lock.Manager, store docstore.Store, querySvc *query.Service, exporter *export.Exporter, notifier notify.Sink, strategies []Strategy) *Orchestrator {
	return &Orchestrator{
		locks:      locks,
		store:      store,
		querySvc:   querySvc,
		exporter:   exporter,
		notifier:   notifier,
		strategies: strategies,
		logger:     log.WithComponent("cleanse-orchestrator"),
		Now:        func() time.Time { return time.Now().UTC() },
		NewID:      uuid.NewString,
	}
}

// StartAnalysis acquires the cleanse-analysis lock, persists a
// Running operation, and launches the analysis in the background.
// Returns (nil, nil) if another run already holds the lock.
func (o *Orchestrator) StartAnalysis(ctx context.Context) (*domain.CleanseAnalysisOperation, error) {
	held, err := o.locks.Acquire(ctx, LockName)
	if err != nil {
		if errs.Is(err, errs.Conflict) {
			return nil, nil
		}
		return nil, err
	}

	now := o.Now()
	op := domain.CleanseAnalysisOperation{
		ID:        o.NewID(),
		Status:    domain.StatusRunning,
		StartedAt: now,
	}
	if err := o.persist(ctx, op); err != nil {
		_ = held.Release(ctx)
		return nil, err
	}

	go o.runInBackground(held, op)

	result := op
	return &result, nil
}

// ProgressFunc returns an OnProgress-shaped callback (see
// pkg/cleanse/strategy) that persists running totals onto the named
// operation, for wiring into a Strategy's Config before it is handed
// to this Orchestrator.
func (o *Orchestrator) ProgressFunc(operationID string) func(analyzed, total, found, resolved int) {
	return func(analyzed, total, found, resolved int) {
		ctx := context.Background()
		existing, err := o.store.FindOne(ctx, OperationsCollection, docstore.Filter{"_id": operationID})
		if err != nil {
			o.logger.Warn().Err(err).Str("operation_id", operationID).Msg("failed to load operation for progress update")
			return
		}

		pct := 0.0
		if total > 0 {
			pct = float64(analyzed) / float64(total) * 100
		}
		existing["records_analyzed"] = analyzed
		existing["total_records"] = total
		existing["issues_found"] = found
		existing["issues_resolved"] = resolved
		existing["progress_pct"] = pct
		existing["status_description"] = "analyzing"

		if err := o.store.Upsert(ctx, OperationsCollection, docstore.Filter{"_id": operationID}, existing); err != nil {
			o.logger.Warn().Err(err).Str("operation_id", operationID).Msg("failed to persist progress")
		}
	}
}

func (o *Orchestrator) runInBackground(held *lock.Held, op domain.CleanseAnalysisOperation) {
	ctx := context.Background()
	defer func() { _ = held.Release(ctx) }()

	qc := query.NewContext(op.ID, o.querySvc)

	var totals strategy.Result
	var runErr error
	for _, s := range o.strategies {
		res, err := s.Run(ctx, qc)
		if err != nil {
			runErr = err
			break
		}
		totals.RecordsAnalyzed += res.RecordsAnalyzed
		totals.IssuesFound += res.IssuesFound
		totals.IssuesResolved += res.IssuesResolved
	}

	var reportKey, reportURL, errMsg string
	if runErr == nil {
		expRes, err := o.exporter.Export(ctx, op.ID)
		if err != nil {
			runErr = err
		} else {
			reportKey, reportURL = expRes.ObjectKey, expRes.URL
			if sendErr := o.notifier.SendReport(ctx, reportURL); sendErr != nil {
				o.logger.Warn().Err(sendErr).Str("operation_id", op.ID).Msg("failed to send report notification")
				errMsg = sendErr.Error()
			}
		}
	}

	now := o.Now()
	status := domain.StatusCompleted
	if runErr != nil {
		status = domain.StatusFailed
		errMsg = runErr.Error()
	}
	durationMs := now.Sub(op.StartedAt).Milliseconds()

	finished := op
	finished.Status = status
	finished.CompletedAt = &now
	finished.RecordsAnalyzed = totals.RecordsAnalyzed
	finished.TotalRecords = totals.RecordsAnalyzed
	finished.IssuesFound = totals.IssuesFound
	finished.IssuesResolved = totals.IssuesResolved
	finished.DurationMs = &durationMs
	finished.Error = errMsg
	finished.ReportObjectKey = reportKey
	finished.ReportURL = reportURL
	finished.ProgressPct = 100

	if err := o.persist(ctx, finished); err != nil {
		o.logger.Error().Err(err).Str("operation_id", op.ID).Msg("failed to persist finished cleanse operation")
	}
}

// RegenerateReportUrl re-presigns the stored report object for
// operationID and persists the refreshed url.
func (o *Orchestrator) RegenerateReportUrl(ctx context.Context, operationID string, presign func(key string) (string, error)) (domain.CleanseAnalysisOperation, error) {
	doc, err := o.store.FindOne(ctx, OperationsCollection, docstore.Filter{"_id": operationID})
	if err != nil {
		return domain.CleanseAnalysisOperation{}, err
	}
	op := fromDoc(doc)
	if op.ReportObjectKey == "" {
		return domain.CleanseAnalysisOperation{}, errs.New(errs.InputInvalid, "operation has no report to regenerate a url for")
	}
	url, err := presign(op.ReportObjectKey)
	if err != nil {
		return domain.CleanseAnalysisOperation{}, err
	}
	op.ReportURL = url
	if err := o.persist(ctx, op); err != nil {
		return domain.CleanseAnalysisOperation{}, err
	}
	return op, nil
}

// SendTestNotification exercises the configured NotificationSink
// without running an analysis.
func (o *Orchestrator) SendTestNotification(ctx context.Context, addr string) error {
	return o.notifier.SendTest(ctx, addr)
}

func (o *Orchestrator) persist(ctx context.Context, op domain.CleanseAnalysisOperation) error {
	return o.store.Upsert(ctx, OperationsCollection, docstore.Filter{"_id": op.ID}, toDoc(op))
}

func toDoc(op domain.CleanseAnalysisOperation) map[string]any {
	doc := map[string]any{
		"_id":                 op.ID,
		"status":              string(op.Status),
		"started_at":          op.StartedAt,
		"progress_pct":        op.ProgressPct,
		"status_description":  op.StatusDescription,
		"records_analyzed":    op.RecordsAnalyzed,
		"total_records":       op.TotalRecords,
		"issues_found":        op.IssuesFound,
		"issues_resolved":     op.IssuesResolved,
		"error":               op.Error,
		"report_object_key":   op.ReportObjectKey,
		"report_url":          op.ReportURL,
	}
	if op.CompletedAt != nil {
		doc["completed_at"] = *op.CompletedAt
	}
	if op.DurationMs != nil {
		doc["duration_ms"] = *op.DurationMs
	}
	return doc
}

func fromDoc(d map[string]any) domain.CleanseAnalysisOperation {
	op := domain.CleanseAnalysisOperation{
		ID:                str(d["_id"]),
		Status:            domain.RunStatus(str(d["status"])),
		StatusDescription: str(d["status_description"]),
		RecordsAnalyzed:   toInt(d["records_analyzed"]),
		TotalRecords:      toInt(d["total_records"]),
		IssuesFound:       toInt(d["issues_found"]),
		IssuesResolved:    toInt(d["issues_resolved"]),
		Error:             str(d["error"]),
		ReportObjectKey:   str(d["report_object_key"]),
		ReportURL:         str(d["report_url"]),
	}
	if t, ok := d["started_at"].(time.Time); ok {
		op.StartedAt = t
	}
	if t, ok := d["completed_at"].(time.Time); ok {
		op.CompletedAt = &t
	}
	if f, ok := d["progress_pct"].(float64); ok {
		op.ProgressPct = f
	}
	if n, ok := d["duration_ms"].(int64); ok {
		op.DurationMs = &n
	}
	return op
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
