// Package config loads process configuration from a YAML document
// (the same WarrenResource-style document the teacher's "apply"
// command unmarshals) overlaid with LITP_-prefixed environment
// variables, which always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration for the ingestion and
// cleanse-analysis core.
type Config struct {
	LogLevel  string `yaml:"logLevel"`
	LogJSON   bool   `yaml:"logJSON"`

	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	DocStore    DocStoreConfig    `yaml:"docStore"`
	Lock        LockConfig        `yaml:"lock"`
	SMTP        SMTPConfig        `yaml:"smtp"`

	IngestBatchSize    int `yaml:"ingestBatchSize"`
	AcquisitionWorkers int `yaml:"acquisitionWorkers"`
	IngestionWorkers   int `yaml:"ingestionWorkers"`

	DefaultAnalysisWindowDays int `yaml:"defaultAnalysisWindowDays"`

	AllowDestructiveOps bool `yaml:"allowDestructiveOps"`
}

// ObjectStoreConfig configures the source/target/report-sink buckets.
type ObjectStoreConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	SourceBucket    string `yaml:"sourceBucket"`
	TargetBucket    string `yaml:"targetBucket"`
	ReportBucket    string `yaml:"reportBucket"`
	SourcePrefix    string `yaml:"sourcePrefix"`
	TargetPrefix    string `yaml:"targetPrefix"`
	ReportPrefix    string `yaml:"reportPrefix"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
}

// DocStoreConfig configures the Mongo-shaped document database.
type DocStoreConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// LockConfig controls distributed-lock lease behaviour.
type LockConfig struct {
	LeaseDuration    time.Duration `yaml:"leaseDuration"`
	HeartbeatPeriod  time.Duration `yaml:"heartbeatPeriod"`
	AcquireTryWindow time.Duration `yaml:"acquireTryWindow"`
}

// SMTPConfig configures the default NotificationSink implementation.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	To       []string `yaml:"to"`
}

// Default returns sane defaults for local development.
func Default() Config {
	return Config{
		LogLevel:                  "info",
		IngestBatchSize:           1000,
		AcquisitionWorkers:        8,
		IngestionWorkers:          4,
		DefaultAnalysisWindowDays: 1,
		Lock: LockConfig{
			LeaseDuration:    30 * time.Second,
			HeartbeatPeriod:  10 * time.Second,
			AcquireTryWindow: 2 * time.Second,
		},
	}
}

// Load reads a YAML file at path (if non-empty and present) into the
// defaults, then overlays LITP_-prefixed environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("LITP_LOG_LEVEL", &cfg.LogLevel)
	boolean("LITP_LOG_JSON", &cfg.LogJSON)

	str("LITP_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	str("LITP_OBJECTSTORE_REGION", &cfg.ObjectStore.Region)
	str("LITP_OBJECTSTORE_ACCESS_KEY_ID", &cfg.ObjectStore.AccessKeyID)
	str("LITP_OBJECTSTORE_SECRET_ACCESS_KEY", &cfg.ObjectStore.SecretAccessKey)
	str("LITP_OBJECTSTORE_SOURCE_BUCKET", &cfg.ObjectStore.SourceBucket)
	str("LITP_OBJECTSTORE_TARGET_BUCKET", &cfg.ObjectStore.TargetBucket)
	str("LITP_OBJECTSTORE_REPORT_BUCKET", &cfg.ObjectStore.ReportBucket)
	boolean("LITP_OBJECTSTORE_USE_PATH_STYLE", &cfg.ObjectStore.UsePathStyle)

	str("LITP_DOCSTORE_URI", &cfg.DocStore.URI)
	str("LITP_DOCSTORE_DATABASE", &cfg.DocStore.Database)

	str("LITP_SMTP_HOST", &cfg.SMTP.Host)
	integer("LITP_SMTP_PORT", &cfg.SMTP.Port)
	str("LITP_SMTP_FROM", &cfg.SMTP.From)
	str("LITP_SMTP_USERNAME", &cfg.SMTP.Username)
	str("LITP_SMTP_PASSWORD", &cfg.SMTP.Password)
	if v, ok := os.LookupEnv("LITP_SMTP_TO"); ok {
		cfg.SMTP.To = strings.Split(v, ",")
	}

	integer("LITP_INGEST_BATCH_SIZE", &cfg.IngestBatchSize)
	integer("LITP_ACQUISITION_WORKERS", &cfg.AcquisitionWorkers)
	integer("LITP_INGESTION_WORKERS", &cfg.IngestionWorkers)
	integer("LITP_DEFAULT_ANALYSIS_WINDOW_DAYS", &cfg.DefaultAnalysisWindowDays)
	boolean("LITP_ALLOW_DESTRUCTIVE_OPS", &cfg.AllowDestructiveOps)
}
