// Package ingestion implements the IngestionStage §4.5 describes:
// catalogue-driven discovery of decrypted target files, CSV parsing
// with delimiter auto-detection, and batch hand-off to the upsert
// engine and lineage recorder. Grounded on the teacher's reconciler
// scan-then-mutate cycle for the outer shape, with per-dataset
// concurrency bounded the same way AcquisitionStage bounds per-file
// concurrency (golang.org/x/sync/errgroup+semaphore).
package ingestion

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/litp/platform/pkg/catalogue"
	"github.com/litp/platform/pkg/dedup"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/ingest/lineage"
	"github.com/litp/platform/pkg/ingest/recordid"
	"github.com/litp/platform/pkg/ingest/upsert"
	"github.com/litp/platform/pkg/log"
	"github.com/litp/platform/pkg/metrics"
	"github.com/litp/platform/pkg/objectstore"
	"github.com/litp/platform/pkg/registry"
)

// DefaultBatchSize is the number of rows accumulated before one
// UpsertEngine.Apply/LineageRecorder.Record call, per §4.5.
const DefaultBatchSize = 1000

// OnProgress reports how many of total discovered files have been
// processed (succeeded, skipped, or failed) so far in one phase run.
type OnProgress func(processed, total int)

// Config controls ingestion batching and per-import dataset concurrency.
type Config struct {
	BatchSize      int
	DatasetWorkers int
	OnProgress     OnProgress
}

// Stage ingests catalogued target files into their dataset collections.
type Stage struct {
	catalogue *catalogue.Catalogue
	registry  *registry.Registry
	target    objectstore.Reader
	dedup     *dedup.Deduper
	engine    *upsert.Engine
	lineage   *lineage.Recorder
	reports   docstore.Store
	cfg       Config
}

// New builds a Stage. target is the internal store ingestion reads
// decrypted CSVs from; reports is the DocumentStore holding
// import_files, shared with AcquisitionStage.
func New(cat *catalogue.Catalogue, reg *registry.Registry, target objectstore.Reader, deduper *dedup.Deduper, engine *upsert.Engine, rec *lineage.Recorder, reports docstore.Store, cfg Config) *Stage {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.DatasetWorkers <= 0 {
		cfg.DatasetWorkers = 1
	}
	return &Stage{catalogue: cat, registry: reg, target: target, dedup: deduper, engine: engine, lineage: rec, reports: reports, cfg: cfg}
}

// Run ingests every catalogued file under targetPrefix within r,
// one dataset collection per registered definition. Different
// datasets ingest concurrently; files within one dataset are
// processed sequentially, most-recent-first, to preserve change-type
// ordering.
func (s *Stage) Run(ctx context.Context, importID, targetPrefix string, r catalogue.Range) (domain.IngestionPhaseReport, error) {
	logger := log.WithImport(importID)
	started := time.Now().UTC()
	report := domain.IngestionPhaseReport{Status: domain.StatusStarted, StartedAt: &started}

	byDataset, err := s.catalogue.Resolve(ctx, targetPrefix, r)
	if err != nil {
		return report, err
	}

	var discovered int
	for _, matches := range byDataset {
		discovered += len(matches)
	}
	report.FilesDiscovered = discovered
	logger.Info().Int("files_discovered", discovered).Msg("ingestion phase started")

	if discovered == 0 {
		completed := time.Now().UTC()
		report.Status = domain.StatusCompleted
		report.CompletedAt = &completed
		return report, nil
	}

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(s.cfg.DatasetWorkers))
	g, gctx := errgroup.WithContext(ctx)

	for name, matches := range byDataset {
		def, defErr := s.registry.Get(name)
		if defErr != nil {
			continue
		}
		matches := matches
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			for _, m := range matches {
				fr, ferr := s.ingestOne(gctx, importID, def, m)
				mu.Lock()
				switch fr.Status {
				case domain.FileIngested:
					report.FilesProcessed++
				case domain.FileSkipped:
					report.FilesSkipped++
				case domain.FileFailed:
					report.FilesFailed++
				}
				if fr.Ingestion != nil {
					report.RecordsCreated += fr.Ingestion.RecordsCreated
					report.RecordsUpdated += fr.Ingestion.RecordsUpdated
					report.RecordsDeleted += fr.Ingestion.RecordsDeleted
				}
				metrics.IngestionFilesTotal.WithLabelValues(def.Name, string(fr.Status)).Inc()
				persistErr := s.persist(gctx, importID, fr)
				if s.cfg.OnProgress != nil {
					s.cfg.OnProgress(report.FilesProcessed+report.FilesSkipped+report.FilesFailed, report.FilesDiscovered)
				}
				mu.Unlock()
				if persistErr != nil {
					return persistErr
				}
				if ferr != nil {
					return ferr
				}
			}
			return nil
		})
	}

	runErr := g.Wait()

	completed := time.Now().UTC()
	report.CompletedAt = &completed
	if runErr != nil {
		report.Status = domain.StatusFailed
		return report, runErr
	}
	if report.FilesDiscovered > 0 && report.FilesFailed == report.FilesDiscovered {
		report.Status = domain.StatusFailed
		return report, errs.New(errs.PermanentIO, "every file failed ingestion")
	}
	report.Status = domain.StatusCompleted
	return report, nil
}

func (s *Stage) ingestOne(ctx context.Context, importID string, def domain.DatasetDefinition, m catalogue.Match) (domain.FileProcessingReport, error) {
	fileLogger := log.WithFile(m.Object.Key)

	seen, err := s.dedup.IngestionSeen(ctx, m.Object.Key, m.Object.ETag)
	if err != nil {
		return failedReport(importID, m, err), err
	}
	if seen {
		return domain.FileProcessingReport{
			ImportID:    importID,
			FileName:    m.Object.Key,
			FileKey:     m.Object.Key,
			DatasetName: def.Name,
			ETag:        m.Object.ETag,
			FileSize:    m.Object.Size,
			Status:      domain.FileSkipped,
		}, nil
	}

	start := time.Now()
	rs, err := s.target.OpenRead(ctx, m.Object.Key)
	if err != nil {
		return failedReport(importID, m, err), err
	}
	defer rs.Close()

	detail, err := s.ingestFile(ctx, importID, def, m.Object.Key, rs)
	if err != nil {
		fileLogger.Error().Err(err).Msg("ingestion failed")
		return failedReport(importID, m, err), err
	}
	detail.IngestionDurationMs = time.Since(start).Milliseconds()
	detail.IngestedAt = time.Now().UTC()

	return domain.FileProcessingReport{
		ImportID:    importID,
		FileName:    m.Object.Key,
		FileKey:     m.Object.Key,
		DatasetName: def.Name,
		ETag:        m.Object.ETag,
		FileSize:    m.Object.Size,
		Status:      domain.FileIngested,
		Ingestion:   &detail,
	}, nil
}

func failedReport(importID string, m catalogue.Match, err error) domain.FileProcessingReport {
	return domain.FileProcessingReport{
		ImportID:    importID,
		FileName:    m.Object.Key,
		FileKey:     m.Object.Key,
		DatasetName: m.Definition.Name,
		ETag:        m.Object.ETag,
		FileSize:    m.Object.Size,
		Status:      domain.FileFailed,
		Error:       err.Error(),
	}
}

// ingestFile parses src as CSV, validates the header against def's
// primary key columns, and streams rows into fixed-size batches,
// applying each through the upsert engine and lineage recorder.
func (s *Stage) ingestFile(ctx context.Context, importID string, def domain.DatasetDefinition, fileKey string, src io.Reader) (domain.IngestionFileDetail, error) {
	var detail domain.IngestionFileDetail

	br := bufio.NewReader(src)
	delim, err := detectDelimiter(br, def.Delimiter)
	if err != nil {
		return detail, err
	}

	r := csv.NewReader(br)
	r.Comma = delim
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return detail, errs.Wrap(errs.PermanentIO, err, "failed to read CSV header")
	}
	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[strings.TrimSpace(h)] = i
	}
	for _, pk := range def.PrimaryKeyColumns {
		if _, ok := colIndex[pk]; !ok {
			return detail, errs.Newf(errs.PermanentIO, "missing primary key column %q in %s", pk, fileKey)
		}
	}
	changeTypeIdx := -1
	if def.ChangeTypeColumn != "" {
		if idx, ok := colIndex[def.ChangeTypeColumn]; ok {
			changeTypeIdx = idx
		}
	}

	batch := make([]upsert.Row, 0, s.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := s.engine.Apply(ctx, def.Name, batch, importID, fileKey, def.AccumulatorColumns)
		if err != nil {
			return err
		}
		if err := s.lineage.Record(ctx, def.Name, res.Events, importID, fileKey); err != nil {
			return err
		}
		detail.RecordsCreated += res.Created
		detail.RecordsUpdated += res.Updated + res.Undeleted
		detail.RecordsDeleted += res.Deleted
		metrics.IngestionRecordsTotal.WithLabelValues(def.Name, "created").Add(float64(res.Created))
		metrics.IngestionRecordsTotal.WithLabelValues(def.Name, "updated").Add(float64(res.Updated + res.Undeleted))
		metrics.IngestionRecordsTotal.WithLabelValues(def.Name, "deleted").Add(float64(res.Deleted))
		batch = batch[:0]
		return nil
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return detail, errs.Wrap(errs.PermanentIO, err, "malformed CSV row")
		}
		detail.RecordsProcessed++

		columns := make(map[string]string, len(header))
		for name, idx := range colIndex {
			if idx < len(record) {
				columns[name] = record[idx]
			}
		}

		keyParts := make([]string, len(def.PrimaryKeyColumns))
		for i, pk := range def.PrimaryKeyColumns {
			keyParts[i] = columns[pk]
		}
		recID, err := recordid.Generate(keyParts...)
		if err != nil {
			return detail, err
		}

		changeType := domain.ChangeInsert
		if changeTypeIdx >= 0 && changeTypeIdx < len(record) {
			if v := strings.TrimSpace(record[changeTypeIdx]); v != "" {
				changeType = domain.ChangeType(v)
			}
		}

		batch = append(batch, upsert.Row{RecordID: recID, Columns: columns, ChangeType: changeType})
		if len(batch) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return detail, err
			}
		}
	}
	if err := flush(); err != nil {
		return detail, err
	}
	return detail, nil
}

// detectDelimiter returns override if non-zero; otherwise it peeks
// the first line of br (without consuming it) and picks whichever of
// ',' or '|' occurs more often, defaulting to ',' on a tie.
func detectDelimiter(br *bufio.Reader, override rune) (rune, error) {
	if override != 0 {
		return override, nil
	}
	peeked, err := br.Peek(4096)
	if err != nil && err != io.EOF {
		return 0, errs.Wrap(errs.PermanentIO, err, "failed to inspect CSV delimiter")
	}
	line := peeked
	if idx := strings.IndexByte(string(peeked), '\n'); idx >= 0 {
		line = peeked[:idx]
	}
	if strings.Count(string(line), "|") > strings.Count(string(line), ",") {
		return '|', nil
	}
	return ',', nil
}

func (s *Stage) persist(ctx context.Context, importID string, fr domain.FileProcessingReport) error {
	id := importID + ":" + fr.FileKey
	existing, err := s.reports.FindOne(ctx, dedup.Collection, docstore.Filter{"_id": id})
	if err != nil && !errs.Is(err, errs.NotFound) {
		return err
	}

	doc := map[string]any{}
	if existing != nil {
		for k, v := range existing {
			doc[k] = v
		}
	}
	doc["_id"] = id
	doc["import_id"] = fr.ImportID
	doc["file_name"] = fr.FileName
	doc["file_key"] = fr.FileKey
	doc["dataset_name"] = fr.DatasetName
	doc["e_tag"] = fr.ETag
	doc["file_size"] = fr.FileSize
	doc["status"] = string(fr.Status)
	doc["error"] = fr.Error

	if fr.Ingestion != nil {
		doc["ingestion"] = map[string]any{
			"records_processed":     fr.Ingestion.RecordsProcessed,
			"records_created":       fr.Ingestion.RecordsCreated,
			"records_updated":       fr.Ingestion.RecordsUpdated,
			"records_deleted":       fr.Ingestion.RecordsDeleted,
			"ingestion_duration_ms": fr.Ingestion.IngestionDurationMs,
			"ingested_at":           fr.Ingestion.IngestedAt,
		}
	}
	return s.reports.Upsert(ctx, dedup.Collection, docstore.Filter{"_id": id}, doc)
}
