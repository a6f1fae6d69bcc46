package orchestrator

import (
	"bytes"
	"context"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litp/platform/pkg/catalogue"
	"github.com/litp/platform/pkg/cryptox"
	"github.com/litp/platform/pkg/dedup"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/ingest/acquisition"
	"github.com/litp/platform/pkg/ingest/ingestion"
	"github.com/litp/platform/pkg/ingest/lineage"
	"github.com/litp/platform/pkg/ingest/reporting"
	"github.com/litp/platform/pkg/ingest/upsert"
	"github.com/litp/platform/pkg/lock"
	"github.com/litp/platform/pkg/objectstore"
	"github.com/litp/platform/pkg/registry"
)

func testLockConfig() lock.Config {
	return lock.Config{
		LeaseDuration:    200 * time.Millisecond,
		HeartbeatPeriod:  30 * time.Millisecond,
		AcquireTryWindow: 100 * time.Millisecond,
	}
}

func testPwSalt(objectKey string) ([]byte, []byte) {
	return []byte("password-for-" + objectKey), []byte("salt-for-" + objectKey)
}

func putEncryptedObject(t *testing.T, source *objectstore.Memory, key, plaintext string) {
	t.Helper()
	password, salt := testPwSalt(key)
	var encrypted bytes.Buffer
	require.NoError(t, cryptox.EncryptStream(&encrypted, strings.NewReader(plaintext), password, salt, rand.Reader))
	require.NoError(t, source.Upload(context.Background(), key, encrypted.Bytes(), "application/octet-stream", nil))
}

// wideRange spans every timestamp these fixtures embed, regardless of
// when the test actually runs.
func wideRange() catalogue.Range {
	return catalogue.Range{
		From: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	o       *Orchestrator
	reports docstore.Store
	source  *objectstore.Memory
	target  *objectstore.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg, err := registry.New([]domain.DatasetDefinition{
		{Name: "PERSONS", FilePrefix: "LITP_PERSONS_{0}", DatePattern: "20060102150405", PrimaryKeyColumns: []string{"PersonId"}},
	})
	require.NoError(t, err)

	reports := docstore.NewMemory()
	source := objectstore.NewMemory("source")
	target := objectstore.NewMemory("target")

	acqStage := acquisition.New(source, target, reg, dedup.New(reports), reports, testPwSalt, acquisition.Config{Workers: 2})
	cat := catalogue.New(target, reg)
	ingStage := ingestion.New(cat, reg, target, dedup.New(reports), upsert.New(reports), lineage.New(reports), reports, ingestion.Config{BatchSize: 10})

	locks := lock.NewManager(reports, testLockConfig())
	o := New(locks, reports,
		map[domain.SourceType]*acquisition.Stage{domain.SourceExternal: acqStage},
		ingStage,
		Prefixes{Source: map[domain.SourceType]string{domain.SourceExternal: ""}, Target: ""},
		func() catalogue.Range { return wideRange() },
	)
	return fixture{o: o, reports: reports, source: source, target: target}
}

func waitForStatus(t *testing.T, store docstore.Store, id string, want domain.RunStatus) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := store.FindOne(context.Background(), ImportsCollection, docstore.Filter{"_id": id})
		if err == nil {
			if status, _ := doc["status"].(string); status == string(want) {
				return doc
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("import %s never reached status %s", id, want)
	return nil
}

func TestStartImportAcquiresAndIngests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	key := "LITP_PERSONS_20240101120000.csv.enc"
	putEncryptedObject(t, f.source, key, "PersonId,Name\n1,Alice\n2,Bob\n")

	report, err := f.o.StartImport(ctx, domain.SourceExternal)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, domain.StatusStarted, report.Status)

	doc := waitForStatus(t, f.reports, report.ID, domain.StatusCompleted)
	acq, _ := doc["acquisition"].(map[string]any)
	require.NotNil(t, acq)
	assert.EqualValues(t, 1, acq["files_processed"])

	ing, _ := doc["ingestion"].(map[string]any)
	require.NotNil(t, ing)
	assert.EqualValues(t, 2, ing["records_created"])
	assert.Equal(t, "", doc["error"])

	n, err := f.reports.Count(ctx, "PERSONS", docstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStartImportUnknownSourceTypeFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.o.StartImport(ctx, domain.SourceInternal)
	assert.Error(t, err)
}

func TestStartImportReturnsNilWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	held, err := f.o.locks.Acquire(ctx, LockName)
	require.NoError(t, err)
	defer held.Release(ctx)

	report, err := f.o.StartImport(ctx, domain.SourceExternal)
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestStartImportAcquisitionFailureMarksImportFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	key := "LITP_PERSONS_20240101120000.csv.enc"
	// Garbage ciphertext: decryption fails permanently for every file.
	require.NoError(t, f.source.Upload(ctx, key, []byte("not-encrypted"), "application/octet-stream", nil))

	report, err := f.o.StartImport(ctx, domain.SourceExternal)
	require.NoError(t, err)
	require.NotNil(t, report)

	doc := waitForStatus(t, f.reports, report.ID, domain.StatusFailed)
	assert.NotEmpty(t, doc["error"])

	ing, ok := doc["ingestion"].(map[string]any)
	if ok {
		assert.EqualValues(t, 0, ing["files_processed"])
	}
}

func TestStartImportSurvivesThroughReporting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	key := "LITP_PERSONS_20240101120000.csv.enc"
	putEncryptedObject(t, f.source, key, "PersonId,Name\n1,Alice\n")

	report, err := f.o.StartImport(ctx, domain.SourceExternal)
	require.NoError(t, err)
	waitForStatus(t, f.reports, report.ID, domain.StatusCompleted)

	svc := reporting.New(f.reports)
	full, err := svc.GetImport(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, full.Status)
	assert.Equal(t, domain.SourceExternal, full.SourceType)
	assert.Equal(t, 1, full.Ingestion.RecordsCreated)
}
