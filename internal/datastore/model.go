// model.go this code defines the data model for the migration pipeline
package datastore

import "time"

// RunStatus is the lifecycle status of a MigrationRun.
type RunStatus string

const (
	RunStatusUploaded          RunStatus = "uploaded"
	RunStatusAnalyzing         RunStatus = "analyzing"
	RunStatusAnalyzed          RunStatus = "analyzed"
	RunStatusDecisionsPending  RunStatus = "decisions_pending"
	RunStatusDecisionsComplete RunStatus = "decisions_complete"
	RunStatusApproved          RunStatus = "approved"
	RunStatusExecuting         RunStatus = "executing"
	RunStatusCompleted         RunStatus = "completed"
	RunStatusFailed            RunStatus = "failed"
	RunStatusCancelled         RunStatus = "cancelled"
)

// EventStatus is the per-event execution outcome.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusSuccessful EventStatus = "successful"
	EventStatusFailed     EventStatus = "failed"
	EventStatusSkipped    EventStatus = "skipped"
)

// DecisionAction is the operator's resolved action for a cataloged file.
type DecisionAction string

const (
	ActionInclude DecisionAction = "include"
	ActionIgnore  DecisionAction = "ignore"
	ActionRename  DecisionAction = "rename"
	ActionReview  DecisionAction = "review"
)

// FileType is the coarse classification of a discovered object.
type FileType string

const (
	FileTypeAudio    FileType = "audio"
	FileTypeVideo    FileType = "video"
	FileTypeDocument FileType = "document"
	FileTypeArchive  FileType = "archive"
	FileTypeImage    FileType = "image"
	FileTypeOther    FileType = "other"
)

// Severity is the severity of a structured issue or log entry.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// MigrationRun represents one import job owned exclusively by the pipeline.
type MigrationRun struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Title      string `gorm:"type:varchar(255)" json:"title"`
	SourceFile string `json:"sourceFile"` // path of the persisted upload
	RowCount   int    `json:"rowCount"`

	Status RunStatus `gorm:"type:varchar(32);index:idx_runs_status" json:"status"`

	TotalEvents      int `json:"totalEvents"`
	ProcessedEvents  int `json:"processedEvents"`
	SuccessfulEvents int `json:"successfulEvents"`
	FailedEvents     int `json:"failedEvents"`
	SkippedEvents    int `json:"skippedEvents"`

	ProgressPercentage float64 `json:"progressPercentage"`

	// AnalysisData is an opaque JSON summary written by the analyzer
	// (issue list, dedup summaries, per-event file counts).
	AnalysisData string `gorm:"type:text" json:"analysisData,omitempty"`

	// CheckpointEvents is the processed-event count at the last persisted
	// checkpoint; a restarted execution resumes from here.
	CheckpointEvents int `json:"checkpointEvents"`

	// CancelRequested is the cooperative cancellation flag observed
	// by the execution engine between events.
	CancelRequested bool `json:"cancelRequested"`

	ErrorMessage string `gorm:"type:text" json:"errorMessage,omitempty"`

	AnalyzedAt *time.Time `json:"analyzedAt,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	ExecutedAt *time.Time `json:"executedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EventRecord is one typed row parsed from the uploaded tabular export.
// Its Status carries the per-event execution outcome, which makes a
// restarted execution idempotent: successful events are never redone.
type EventRecord struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	MigrationID uint   `gorm:"index:idx_events_migration;uniqueIndex:idx_events_migration_code,priority:1;not null" json:"migrationId"`
	EventCode   string `gorm:"type:varchar(64);uniqueIndex:idx_events_migration_code,priority:2" json:"eventCode"`
	Title       string `gorm:"type:varchar(255)" json:"title"`

	ExpectedTracks       int    `json:"expectedTracks"`
	ExpectedTranslations int    `json:"expectedTranslations"`
	EventDate            string `gorm:"type:varchar(32)" json:"eventDate"`

	TeacherName string `gorm:"type:varchar(255)" json:"teacherName"`
	PlaceName   string `gorm:"type:varchar(255)" json:"placeName"`
	TeacherID   *uint  `json:"teacherId,omitempty"`
	PlaceID     *uint  `json:"placeId,omitempty"`

	Status       EventStatus `gorm:"type:varchar(16);index" json:"status"`
	ErrorMessage string      `gorm:"type:text" json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CatalogedFile is one object discovered in the store for one event.
// Immutable once written by the analyzer for a given run.
type CatalogedFile struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	MigrationID uint   `gorm:"index:idx_catalog_migration;not null" json:"migrationId"`
	EventCode   string `gorm:"type:varchar(64);index:idx_catalog_event" json:"eventCode"`

	SourceDir string `gorm:"type:varchar(255)" json:"sourceDir"`
	Filename  string `gorm:"type:varchar(255)" json:"filename"`
	ObjectKey string `gorm:"type:varchar(512)" json:"objectKey"`

	FileType  FileType `gorm:"type:varchar(16)" json:"fileType"`
	Category  string   `gorm:"type:varchar(32)" json:"category"`
	Extension string   `gorm:"type:varchar(16)" json:"extension"`
	Size      int64    `json:"size"`
	MimeType  string   `gorm:"type:varchar(64)" json:"mimeType"`

	SuggestedAction   DecisionAction `gorm:"type:varchar(16)" json:"suggestedAction"`
	SuggestedCategory string         `gorm:"type:varchar(32)" json:"suggestedCategory"`

	// Conflicts and Metadata are JSON-encoded: a list of human-readable
	// conflict strings and a free-form map (e.g. the computed target key).
	Conflicts string `gorm:"type:text" json:"conflicts,omitempty"`
	Metadata  string `gorm:"type:text" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// FileDecision is the operator decision for one cataloged file,
// at most one per CatalogedFile per run.
type FileDecision struct {
	ID          uint `gorm:"primaryKey" json:"id"`
	MigrationID uint `gorm:"index:idx_decisions_migration;not null" json:"migrationId"`
	CatalogID   uint `gorm:"uniqueIndex:idx_decisions_catalog;not null" json:"catalogId"`

	Action         DecisionAction `gorm:"type:varchar(16)" json:"action"`
	NewFilename    string         `gorm:"type:varchar(255)" json:"newFilename,omitempty"`
	TargetCategory string         `gorm:"type:varchar(32)" json:"targetCategory,omitempty"`
	Note           string         `gorm:"type:text" json:"note,omitempty"`
	DecidedBy      string         `gorm:"type:varchar(128)" json:"decidedBy,omitempty"`
	DecidedAt      time.Time      `json:"decidedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MigrationLog is an append-only timestamped record scoped to a run,
// written only during execution and never mutated.
type MigrationLog struct {
	ID          uint     `gorm:"primaryKey" json:"id"`
	MigrationID uint     `gorm:"index:idx_logs_migration;not null" json:"migrationId"`
	Level       Severity `gorm:"type:varchar(16);index:idx_logs_level" json:"level"`
	EventCode   string   `gorm:"type:varchar(64)" json:"eventCode,omitempty"`
	Message     string   `gorm:"type:text" json:"message"`
	Details     string   `gorm:"type:text" json:"details,omitempty"` // JSON-encoded structured details

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// Teacher is a person giving the archived teachings.
type Teacher struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(255);uniqueIndex" json:"name"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Place is a venue where archived events were held.
type Place struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(255);uniqueIndex" json:"name"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Track is an audio track record created during execution.
type Track struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	MigrationID uint   `gorm:"index" json:"migrationId"`
	EventCode   string `gorm:"type:varchar(64);index" json:"eventCode"`
	Title       string `gorm:"type:varchar(255)" json:"title"`
	ObjectKey   string `gorm:"type:varchar(512)" json:"objectKey"`
	TrackNumber int    `json:"trackNumber"`
	Language    string `gorm:"type:varchar(16)" json:"language,omitempty"`
	Legacy      bool   `json:"legacy"`
	CreatedAt   time.Time
}

// Transcript is a document record created during execution.
type Transcript struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	MigrationID uint   `gorm:"index" json:"migrationId"`
	EventCode   string `gorm:"type:varchar(64);index" json:"eventCode"`
	Title       string `gorm:"type:varchar(255)" json:"title"`
	ObjectKey   string `gorm:"type:varchar(512)" json:"objectKey"`
	Language    string `gorm:"type:varchar(16)" json:"language,omitempty"`
	CreatedAt   time.Time
}

// MediaFile is a generic media record for files that are neither
// audio tracks nor transcripts.
type MediaFile struct {
	ID          uint     `gorm:"primaryKey" json:"id"`
	MigrationID uint     `gorm:"index" json:"migrationId"`
	EventCode   string   `gorm:"type:varchar(64);index" json:"eventCode"`
	Filename    string   `gorm:"type:varchar(255)" json:"filename"`
	ObjectKey   string   `gorm:"type:varchar(512)" json:"objectKey"`
	FileType    FileType `gorm:"type:varchar(16)" json:"fileType"`
	CreatedAt   time.Time
}
