// Package acquisition implements the AcquisitionStage §4.4 describes:
// discover, decrypt, and land source objects onto the internal target
// store, recording one FileProcessingReport per file. Grounded on the
// teacher's reconciler scan-then-mutate cycle (pkg/reconciler) for the
// overall shape, with per-file concurrency bounded by
// golang.org/x/sync/errgroup+semaphore the way the corpus's AWS-SDK
// carrying repo already depends on it.
package acquisition

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/litp/platform/pkg/cryptox"
	"github.com/litp/platform/pkg/dedup"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/errs"
	"github.com/litp/platform/pkg/log"
	"github.com/litp/platform/pkg/metrics"
	"github.com/litp/platform/pkg/objectstore"
	"github.com/litp/platform/pkg/registry"
	"github.com/litp/platform/pkg/retry"
)

// Collection is the fixed DocumentStore collection holding one
// FileProcessingReport per (importId, fileKey).
const Collection = dedup.Collection

// PasswordSaltProvider derives the (password, salt) pair AES-GCM
// decryption uses for one source object key. Pure function of the key.
type PasswordSaltProvider func(objectKey string) (password, salt []byte)

// OnProgress reports how many of total discovered files have been
// processed (succeeded, skipped, or failed) so far in one phase run.
type OnProgress func(processed, total int)

// Config controls acquisition concurrency and retry behaviour.
type Config struct {
	Workers    int
	RetryCfg   retry.Config
	OnProgress OnProgress
}

// Stage acquires source objects into the target store.
type Stage struct {
	source   objectstore.Reader
	target   objectstore.Writer
	registry *registry.Registry
	dedup    *dedup.Deduper
	reports  docstore.Store
	pwSalt   PasswordSaltProvider
	cfg      Config
}

// New builds a Stage. source is read-only (external); target is
// read/write (internal); reports is the DocumentStore holding
// import_files.
func New(source objectstore.Reader, target objectstore.Writer, reg *registry.Registry, deduper *dedup.Deduper, reports docstore.Store, pwSalt PasswordSaltProvider, cfg Config) *Stage {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Stage{source: source, target: target, registry: reg, dedup: deduper, reports: reports, pwSalt: pwSalt, cfg: cfg}
}

// Run acquires every object under sourcePrefix for importID, writing
// one FileProcessingReport per file and returning the phase summary.
// The phase completes Failed only when every discovered file failed;
// otherwise it completes Completed with a non-zero FilesFailed count.
func (s *Stage) Run(ctx context.Context, importID, sourcePrefix string) (domain.AcquisitionPhaseReport, error) {
	logger := log.WithImport(importID)
	started := time.Now().UTC()
	report := domain.AcquisitionPhaseReport{Status: domain.StatusStarted, StartedAt: &started}

	objects, err := s.source.List(ctx, sourcePrefix)
	if err != nil {
		return report, err
	}
	report.FilesDiscovered = len(objects)
	logger.Info().Int("files_discovered", len(objects)).Msg("acquisition phase started")
	if len(objects) == 0 {
		completed := time.Now().UTC()
		report.Status = domain.StatusCompleted
		report.CompletedAt = &completed
		return report, nil
	}

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(s.cfg.Workers))
	g, gctx := errgroup.WithContext(ctx)

	for _, obj := range objects {
		obj := obj
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			fr := s.acquireOne(gctx, importID, obj)

			mu.Lock()
			defer mu.Unlock()
			switch fr.Status {
			case domain.FileAcquired:
				report.FilesProcessed++
			case domain.FileSkipped:
				report.FilesSkipped++
			case domain.FileFailed:
				report.FilesFailed++
			}
			metrics.AcquisitionFilesTotal.WithLabelValues(fr.DatasetName, string(fr.Status)).Inc()
			if s.cfg.OnProgress != nil {
				s.cfg.OnProgress(report.FilesProcessed+report.FilesSkipped+report.FilesFailed, report.FilesDiscovered)
			}
			return s.persist(ctx, importID, fr)
		})
	}

	// Wait drains the errgroup; a persist failure is a storage problem,
	// not a per-file outcome, so it is allowed to fail the whole phase.
	persistErr := g.Wait()

	completed := time.Now().UTC()
	report.CompletedAt = &completed
	if persistErr != nil {
		report.Status = domain.StatusFailed
		return report, persistErr
	}
	if report.FilesDiscovered > 0 && report.FilesFailed == report.FilesDiscovered {
		report.Status = domain.StatusFailed
		return report, errs.New(errs.PermanentIO, "every file failed acquisition")
	}
	report.Status = domain.StatusCompleted
	return report, nil
}

func (s *Stage) acquireOne(ctx context.Context, importID string, obj domain.ObjectRef) domain.FileProcessingReport {
	fileLogger := log.WithFile(obj.Key)

	base := strings.TrimSuffix(obj.Key, ".enc")
	base = strings.TrimSuffix(base, ".csv")
	filename := base[strings.LastIndexByte(base, '/')+1:]

	def, _, matched := s.registry.Match(filename)
	if !matched {
		fileLogger.Warn().Msg("unrecognised source filename, skipping")
		return domain.FileProcessingReport{
			ImportID: importID,
			FileName: filename,
			FileKey:  obj.Key,
			ETag:     obj.ETag,
			FileSize: obj.Size,
			Status:   domain.FileSkipped,
			Error:    "SKIPPED_UNRECOGNISED",
		}
	}

	targetKey := strings.TrimSuffix(obj.Key, ".enc")

	// A successful acquisition persists its report under targetKey (the
	// decrypted object this stage wrote), not the source .enc key, so
	// that is the key a repeat import's dedup check must look up.
	seen, err := s.dedup.AcquisitionSeen(ctx, targetKey, obj.ETag)
	if err != nil {
		return failedReport(importID, filename, obj, def.Name, err)
	}
	if seen {
		return domain.FileProcessingReport{
			ImportID:    importID,
			FileName:    filename,
			FileKey:     targetKey,
			DatasetName: def.Name,
			ETag:        obj.ETag,
			FileSize:    obj.Size,
			Status:      domain.FileSkipped,
			Acquisition: &domain.AcquisitionFileDetail{SourceKey: obj.Key, AcquiredAt: time.Now().UTC()},
		}
	}

	password, salt := s.pwSalt(obj.Key)

	start := time.Now()
	md5sum, err := s.decryptToTarget(ctx, obj.Key, targetKey, password, salt)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		fileLogger.Error().Err(err).Msg("acquisition failed")
		return failedReport(importID, filename, obj, def.Name, err)
	}

	return domain.FileProcessingReport{
		ImportID:    importID,
		FileName:    filename,
		FileKey:     targetKey,
		DatasetName: def.Name,
		MD5:         md5sum,
		ETag:        obj.ETag,
		FileSize:    obj.Size,
		Status:      domain.FileAcquired,
		Acquisition: &domain.AcquisitionFileDetail{
			SourceKey:            obj.Key,
			DecryptionDurationMs: durationMs,
			AcquiredAt:           time.Now().UTC(),
		},
	}
}

func failedReport(importID, filename string, obj domain.ObjectRef, dataset string, err error) domain.FileProcessingReport {
	return domain.FileProcessingReport{
		ImportID:    importID,
		FileName:    filename,
		FileKey:     obj.Key,
		DatasetName: dataset,
		ETag:        obj.ETag,
		FileSize:    obj.Size,
		Status:      domain.FileFailed,
		Error:       err.Error(),
	}
}

func (s *Stage) decryptToTarget(ctx context.Context, sourceKey, targetKey string, password, salt []byte) (string, error) {
	var md5sum string
	err := retry.Do(ctx, s.cfg.RetryCfg, func(ctx context.Context) error {
		rs, err := s.source.OpenRead(ctx, sourceKey)
		if err != nil {
			return err
		}
		defer rs.Close()

		ws, err := s.target.OpenWrite(ctx, targetKey, "text/csv", nil, 0)
		if err != nil {
			return err
		}

		hasher := md5.New()
		if _, derr := cryptox.DecryptStream(io.MultiWriter(ws, hasher), rs, password, salt); derr != nil {
			_ = ws.Abort(ctx)
			return derr
		}
		if cerr := ws.Close(); cerr != nil {
			return cerr
		}
		md5sum = fmt.Sprintf("%x", hasher.Sum(nil))
		return nil
	})
	return md5sum, err
}

func (s *Stage) persist(ctx context.Context, importID string, fr domain.FileProcessingReport) error {
	doc := map[string]any{
		"_id":          importID + ":" + fr.FileKey,
		"import_id":    fr.ImportID,
		"file_name":    fr.FileName,
		"file_key":     fr.FileKey,
		"dataset_name": fr.DatasetName,
		"md5":          fr.MD5,
		"e_tag":        fr.ETag,
		"file_size":    fr.FileSize,
		"status":       string(fr.Status),
		"error":        fr.Error,
	}
	if fr.Acquisition != nil {
		doc["acquisition"] = map[string]any{
			"source_key":             fr.Acquisition.SourceKey,
			"decryption_duration_ms": fr.Acquisition.DecryptionDurationMs,
			"acquired_at":            fr.Acquisition.AcquiredAt,
		}
	}
	return s.reports.Upsert(ctx, Collection, docstore.Filter{"_id": doc["_id"]}, doc)
}
