// Package domain holds the plain data types shared across the
// ingestion pipeline and the cleanse analysis engine: the entities
// described in the design's data model, independent of how any one
// component stores or transports them.
package domain

import "time"

// DatasetDefinition is immutable configuration describing one
// registered reference dataset.
type DatasetDefinition struct {
	// Name is also the target collection name; unique.
	Name string
	// FilePrefix contains a literal "{0}" placeholder for the
	// embedded timestamp, e.g. "LITP_PERSONS_{0}".
	FilePrefix string
	// DatePattern is the Go reference-time layout the embedded
	// timestamp parses under, e.g. "20060102150405" for yyyyMMddHHmmss.
	DatePattern string
	// PrimaryKeyColumns are ordered, non-empty, and must all exist in
	// the CSV header.
	PrimaryKeyColumns []string
	// ChangeTypeColumn is optional; when absent or blank per row, I is assumed.
	ChangeTypeColumn string
	// AccumulatorColumns is the set of columns unioned across imports.
	AccumulatorColumns []string
	// Delimiter overrides delimiter auto-detection when non-zero.
	Delimiter rune
}

// SourceType distinguishes which object store an import reads from.
type SourceType string

const (
	SourceInternal SourceType = "internal"
	SourceExternal SourceType = "external"
)

// RunStatus is the terminal-state enum shared by ImportReport phases
// and the cleanse analysis operation.
type RunStatus string

const (
	StatusNotStarted RunStatus = "NotStarted"
	StatusStarted    RunStatus = "Started"
	StatusRunning    RunStatus = "Running"
	StatusCompleted  RunStatus = "Completed"
	StatusFailed     RunStatus = "Failed"
)

// FileStatus is the terminal state of one FileProcessingReport.
type FileStatus string

const (
	FileAcquired FileStatus = "Acquired"
	FileIngested FileStatus = "Ingested"
	FileFailed   FileStatus = "Failed"
	FileSkipped  FileStatus = "Skipped"
)

// ObjectRef identifies one immutable version of an object in a store.
type ObjectRef struct {
	Container    string
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ImportReport is the root aggregate for one end-to-end import.
type ImportReport struct {
	ID          string
	SourceType  SourceType
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string

	Acquisition AcquisitionPhaseReport
	Ingestion   IngestionPhaseReport
}

// Complete finalises the report with a terminal status. Calling it
// twice is a programming error the caller must avoid; status is never
// re-opened once set to Completed or Failed.
func (r *ImportReport) Complete(status RunStatus, err error) {
	now := time.Now().UTC()
	r.Status = status
	r.CompletedAt = &now
	if err != nil {
		r.Error = err.Error()
	}
}

// AcquisitionPhaseReport tracks the acquisition phase of one import.
type AcquisitionPhaseReport struct {
	Status        RunStatus
	StartedAt     *time.Time
	CompletedAt   *time.Time
	FilesDiscovered int
	FilesProcessed  int
	FilesSkipped    int
	FilesFailed     int
}

// IngestionPhaseReport tracks the ingestion phase of one import.
type IngestionPhaseReport struct {
	Status          RunStatus
	StartedAt       *time.Time
	CompletedAt     *time.Time
	FilesDiscovered int
	FilesProcessed  int
	FilesSkipped    int
	FilesFailed     int
	RecordsCreated  int
	RecordsUpdated  int
	RecordsDeleted  int
}

// AcquisitionFileDetail is the acquisition-specific detail nested in a FileProcessingReport.
type AcquisitionFileDetail struct {
	SourceKey           string
	DecryptionDurationMs int64
	AcquiredAt          time.Time
}

// IngestionFileDetail is the ingestion-specific detail nested in a FileProcessingReport.
type IngestionFileDetail struct {
	RecordsProcessed    int
	RecordsCreated      int
	RecordsUpdated      int
	RecordsDeleted      int
	IngestionDurationMs int64
	IngestedAt          time.Time
}

// FileProcessingReport is one per (importId, fileKey).
type FileProcessingReport struct {
	ImportID    string
	FileName    string
	FileKey     string
	DatasetName string
	MD5         string
	ETag        string
	FileSize    int64
	Status      FileStatus
	Error       string

	Acquisition *AcquisitionFileDetail
	Ingestion   *IngestionFileDetail
}

// LineageStatus is the current lifecycle state of a RecordLineage.
type LineageStatus string

const (
	LineageActive  LineageStatus = "Active"
	LineageDeleted LineageStatus = "Deleted"
)

// LineageEventType enumerates the per-record lifecycle transitions.
type LineageEventType string

const (
	EventCreated   LineageEventType = "Created"
	EventUpdated   LineageEventType = "Updated"
	EventDeleted   LineageEventType = "Deleted"
	EventUndeleted LineageEventType = "Undeleted"
)

// ChangeType is the per-row instruction the upsert engine applies.
type ChangeType string

const (
	ChangeInsert ChangeType = "I"
	ChangeUpdate ChangeType = "U"
	ChangeDelete ChangeType = "D"
)

// RecordLineageEvent is one append-only entry in a RecordLineage's history.
type RecordLineageEvent struct {
	EventType      LineageEventType
	ImportID       string
	FileKey        string
	EventDate      time.Time
	ChangeType     ChangeType
	PreviousValues map[string]any
	NewValues      map[string]any
}

// RecordLineage is the per-(collection,recordId) lifecycle rollup.
type RecordLineage struct {
	RecordID              string
	Collection            string
	CurrentStatus         LineageStatus
	CreatedByImport        string
	LastModifiedByImport   string
	CreatedAt              time.Time
	LastModifiedAt         time.Time
	Events                 []RecordLineageEvent
}

// ResolutionStatus is the workflow state an operator assigns an Issue.
type ResolutionStatus string

const (
	ResolutionNone       ResolutionStatus = "None"
	ResolutionTodo       ResolutionStatus = "Todo"
	ResolutionInProgress ResolutionStatus = "InProgress"
	ResolutionResolved   ResolutionStatus = "Resolved"
)

// IssueHistoryEntry is one append-only entry in an Issue's history.
type IssueHistoryEntry struct {
	Timestamp time.Time
	Actor     string
	Action    string
	Before    map[string]any
	After     map[string]any
}

// Issue is one data-quality finding, keyed deterministically so that
// re-occurrence updates the same row instead of creating a duplicate.
type Issue struct {
	ID                   string
	Code                 string
	RuleCode             string
	ErrorCode            string
	CTSLIDFullIdentifier string
	CPH                  string
	CreatedAt            time.Time
	LastUpdatedAt        time.Time
	IsActive             bool
	IsIgnored            bool
	ResolutionStatus     ResolutionStatus
	AssignedTo           string
	History              []IssueHistoryEntry
}

// CleanseAnalysisOperation is one end-to-end cleanse analysis run.
type CleanseAnalysisOperation struct {
	ID                 string
	Status             RunStatus
	StartedAt          time.Time
	CompletedAt        *time.Time
	ProgressPct        float64
	StatusDescription  string
	RecordsAnalyzed    int
	TotalRecords       int
	IssuesFound        int
	IssuesResolved     int
	DurationMs         *int64
	Error              string
	ReportObjectKey    string
	ReportURL          string
}
