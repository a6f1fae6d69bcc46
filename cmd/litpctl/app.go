package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/litp/platform/pkg/catalogue"
	"github.com/litp/platform/pkg/cleanse/export"
	"github.com/litp/platform/pkg/cleanse/issues"
	"github.com/litp/platform/pkg/cleanse/orchestrator"
	"github.com/litp/platform/pkg/cleanse/rules"
	"github.com/litp/platform/pkg/cleanse/strategy"
	"github.com/litp/platform/pkg/config"
	"github.com/litp/platform/pkg/cryptox"
	"github.com/litp/platform/pkg/dedup"
	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/health"
	"github.com/litp/platform/pkg/ingest/acquisition"
	"github.com/litp/platform/pkg/ingest/ingestion"
	"github.com/litp/platform/pkg/ingest/lineage"
	importorch "github.com/litp/platform/pkg/ingest/orchestrator"
	"github.com/litp/platform/pkg/ingest/reporting"
	"github.com/litp/platform/pkg/ingest/upsert"
	"github.com/litp/platform/pkg/lock"
	"github.com/litp/platform/pkg/log"
	"github.com/litp/platform/pkg/notify"
	"github.com/litp/platform/pkg/objectstore"
	"github.com/litp/platform/pkg/query"
	"github.com/litp/platform/pkg/registry"
)

// app holds every composed collaborator a litpctl subcommand needs.
// Built once per process invocation by newApp.
type app struct {
	cfg     config.Config
	mongo   *mongo.Client
	store   docstore.Store
	reports *reporting.Service

	sourceStore *objectstore.S3Store
	targetStore *objectstore.S3Store
	reportStore *objectstore.S3Store

	locks *lock.Manager

	importOrch  *importorch.Orchestrator
	cleanseOrch *orchestrator.Orchestrator

	health *health.Aggregator

	notifier notify.Sink
}

// loadAppConfig reads --config plus environment overrides, then layers
// any --log-level/--log-json flag overrides on top.
func loadAppConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}
	return cfg, nil
}

// newApp connects to Mongo and S3 and wires every collaborator the
// ingestion core and cleanse analysis engine need. Grounded on
// `cmd/warren/main.go`'s cluster-init composition (build storage,
// build managers, build orchestration layers, then hand back a
// ready-to-run value) — adapted from in-memory Raft/containerd
// collaborators to this platform's document-store/object-store pair.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DocStore.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to document store: %w", err)
	}
	store := docstore.NewMongoStore(mongoClient.Database(cfg.DocStore.Database))

	s3Client, err := newS3Client(ctx, cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("configuring object store client: %w", err)
	}
	sourceStore := objectstore.NewS3Store(s3Client, cfg.ObjectStore.SourceBucket, cfg.ObjectStore.SourcePrefix)
	targetStore := objectstore.NewS3Store(s3Client, cfg.ObjectStore.TargetBucket, cfg.ObjectStore.TargetPrefix)
	reportStore := objectstore.NewS3Store(s3Client, cfg.ObjectStore.ReportBucket, cfg.ObjectStore.ReportPrefix)

	reg, err := registry.New(registry.Default())
	if err != nil {
		return nil, fmt.Errorf("building dataset registry: %w", err)
	}

	locks := lock.NewManager(store, lock.Config{
		LeaseDuration:    cfg.Lock.LeaseDuration,
		HeartbeatPeriod:  cfg.Lock.HeartbeatPeriod,
		AcquireTryWindow: cfg.Lock.AcquireTryWindow,
	})

	deduper := dedup.New(store)
	cat := catalogue.New(targetStore, reg)
	lineageRecorder := lineage.New(store)
	upsertEngine := upsert.New(store)
	pwSalt := cryptox.PasswordSaltFromKey([]byte(cfg.ObjectStore.SecretAccessKey))

	acquisitionCfg := acquisition.Config{Workers: cfg.AcquisitionWorkers}
	acquisitionBySource := map[domain.SourceType]*acquisition.Stage{
		domain.SourceExternal: acquisition.New(sourceStore, targetStore, reg, deduper, store, pwSalt, acquisitionCfg),
		domain.SourceInternal: acquisition.New(targetStore, targetStore, reg, deduper, store, pwSalt, acquisitionCfg),
	}
	ingestionStage := ingestion.New(cat, reg, targetStore, deduper, upsertEngine, lineageRecorder, store, ingestion.Config{
		BatchSize:      cfg.IngestBatchSize,
		DatasetWorkers: cfg.IngestionWorkers,
	})

	importOrch := importorch.New(locks, store, acquisitionBySource, ingestionStage, importorch.Prefixes{
		Source: map[domain.SourceType]string{
			domain.SourceExternal: cfg.ObjectStore.SourcePrefix,
			domain.SourceInternal: cfg.ObjectStore.TargetPrefix,
		},
		Target: cfg.ObjectStore.TargetPrefix,
	}, nil)

	var notifier notify.Sink
	if cfg.SMTP.Host != "" {
		notifier = notify.NewSMTPSink(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		})
	} else {
		notifier = notify.NewLogSink()
	}

	issueRepo := issues.New(store)
	querySvc := query.NewService(store)
	exporter := export.New(store, reportStore)

	ctsStrategy := strategy.New(strategy.Config[*rules.CTSRecord]{
		OuterCollection: rules.CTSCollection,
		Pipeline:        rules.NewPipeline(),
		Build:           rules.BuildCTSRecord,
	}, issueRepo)

	cleanseOrch := orchestrator.New(locks, store, querySvc, exporter, notifier, []orchestrator.Strategy{ctsStrategy})

	healthAgg := health.NewAggregator(
		health.NewDocStoreChecker("docstore", store, lock.Collection),
		health.NewObjectStoreChecker("source-store", sourceStore),
		health.NewObjectStoreChecker("target-store", targetStore),
		health.NewObjectStoreChecker("report-store", reportStore),
		health.NewStaleOperationsChecker("import-ops", store, reporting.ImportsCollection, time.Hour),
		health.NewStaleOperationsChecker("cleanse-ops", store, orchestrator.OperationsCollection, time.Hour),
	)

	return &app{
		cfg:         cfg,
		mongo:       mongoClient,
		store:       store,
		reports:     reporting.New(store),
		sourceStore: sourceStore,
		targetStore: targetStore,
		reportStore: reportStore,
		locks:       locks,
		importOrch:  importOrch,
		cleanseOrch: cleanseOrch,
		health:      healthAgg,
		notifier:    notifier,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.mongo.Disconnect(ctx); err != nil {
		log.Logger.Error().Err(err).Msg("failed to disconnect from document store")
	}
}

// newS3Client builds one *s3.Client shared across the source, target,
// and report buckets, honouring an optional custom endpoint (MinIO or
// another S3-compatible service) and path-style addressing.
func newS3Client(ctx context.Context, cfg config.ObjectStoreConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	return s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}
