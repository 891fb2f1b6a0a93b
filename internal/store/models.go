package store

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a document.
type Status string

const (
	StatusPending               Status = "pending"
	StatusOCRInProgress         Status = "ocr_in_progress"
	StatusOCRCompleted          Status = "ocr_completed"
	StatusClassifying           Status = "classifying"
	StatusClassified            Status = "classified"
	StatusScoringClassification Status = "scoring_classification"
	StatusScoredClassification  Status = "scored_classification"
	StatusSummarizing           Status = "summarizing"
	StatusSummarized            Status = "summarized"
	StatusFiled                 Status = "filed"
	StatusSeriesSummarizing     Status = "series_summarizing"
	StatusSeriesSummarized      Status = "series_summarized"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusPermanentlyFailed     Status = "permanently_failed"
)

// FileStatus represents the lifecycle of a generated artifact file.
type FileStatus string

const (
	FileStatusPending      FileStatus = "pending"
	FileStatusOutdated     FileStatus = "outdated"
	FileStatusGenerating   FileStatus = "generating"
	FileStatusRegenerating FileStatus = "regenerating"
	FileStatusGenerated    FileStatus = "generated"
	FileStatusFailed       FileStatus = "failed"
)

// File kinds persisted in the files table.
const (
	FileKindDocumentSummary = "document_summary"
	FileKindSeriesReport    = "series_report"
)

// DaemonStopReason is the error message set when work is failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusOCRInProgress,
	StatusOCRCompleted,
	StatusClassifying,
	StatusClassified,
	StatusScoringClassification,
	StatusScoredClassification,
	StatusSummarizing,
	StatusSummarized,
	StatusFiled,
	StatusSeriesSummarizing,
	StatusSeriesSummarized,
	StatusCompleted,
	StatusFailed,
	StatusPermanentlyFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// processingStatuses are the in-flight states. Rows in these states own a
// processing_started_at timestamp and are candidates for stale recovery.
var processingStatuses = map[Status]struct{}{
	StatusOCRInProgress:         {},
	StatusClassifying:           {},
	StatusScoringClassification: {},
	StatusSummarizing:           {},
	StatusSeriesSummarizing:     {},
}

// stageRollbackTargets maps every in-flight status to the checkpoint it
// resumes from after an interruption. Summarizing deliberately resumes from
// classified rather than scored_classification so a retried summary always
// follows a fresh confidence score.
var stageRollbackTargets = map[Status]Status{
	StatusOCRInProgress:         StatusPending,
	StatusClassifying:           StatusOCRCompleted,
	StatusScoringClassification: StatusClassified,
	StatusSummarizing:           StatusClassified,
	StatusSeriesSummarizing:     StatusSummarized,
}

// RollbackTarget returns the resumable checkpoint for an in-flight status.
func RollbackTarget(status Status) (Status, bool) {
	target, ok := stageRollbackTargets[status]
	return target, ok
}

var fileRollbackTargets = map[FileStatus]FileStatus{
	FileStatusGenerating:   FileStatusPending,
	FileStatusRegenerating: FileStatusOutdated,
}

// statusTransitions enumerates the legal document status moves. Anything not
// listed here is rejected by UpdateDocumentStatus.
var statusTransitions = map[Status][]Status{
	StatusPending:               {StatusOCRInProgress, StatusFailed},
	StatusOCRInProgress:         {StatusOCRCompleted, StatusPending, StatusFailed},
	StatusOCRCompleted:          {StatusClassifying, StatusFailed},
	StatusClassifying:           {StatusClassified, StatusOCRCompleted, StatusFailed},
	StatusClassified:            {StatusScoringClassification, StatusFailed},
	StatusScoringClassification: {StatusScoredClassification, StatusClassified, StatusFailed},
	StatusScoredClassification:  {StatusSummarizing, StatusFailed},
	StatusSummarizing:           {StatusSummarized, StatusClassified, StatusFailed},
	StatusSummarized:            {StatusFiled, StatusFailed},
	StatusFiled:                 {StatusSeriesSummarizing, StatusSeriesSummarized, StatusFailed},
	StatusSeriesSummarizing:     {StatusSeriesSummarized, StatusSummarized, StatusFailed},
	StatusSeriesSummarized:      {StatusCompleted, StatusFailed},
	StatusCompleted:             {},
	StatusFailed:                {StatusPending, StatusOCRCompleted, StatusClassified, StatusSummarized, StatusFiled, StatusPermanentlyFailed},
	StatusPermanentlyFailed:     {},
}

// HealthSummary describes aggregated document counts per key lifecycle states.
type HealthSummary struct {
	Total             int
	Pending           int
	Processing        int
	Failed            int
	PermanentlyFailed int
	Completed         int
}

// DatabaseHealth captures diagnostic information about the database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	IntegrityCheck   bool
	TotalDocuments   int
	Error            string
}

// Document represents a pipeline document persisted in SQLite.
type Document struct {
	ID                  int64
	Fingerprint         string
	SourcePath          string
	ArchivePath         string
	Status              Status
	DocType             string
	Entity              string
	Correspondent       string
	DocDate             string
	OCRText             string
	ClassificationJSON  string
	ClassificationScore float64
	Summary             string
	SeriesID            *int64
	RetryCount          int
	ErrorMessage        string
	ProcessingStartedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Series groups documents belonging to one entity and series type.
type Series struct {
	ID                  int64
	Entity              string
	SeriesType          string
	Title               string
	Summary             string
	ActivePromptID      *int64
	RegenerationPending bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Prompt is a versioned series-report prompt with accumulated quality scores.
type Prompt struct {
	ID         int64
	SeriesID   int64
	Body       string
	ScoreTotal float64
	ScoreCount int
	CreatedAt  time.Time
}

// AverageScore returns the mean recorded score, or zero when unscored.
func (p *Prompt) AverageScore() float64 {
	if p == nil || p.ScoreCount == 0 {
		return 0
	}
	return p.ScoreTotal / float64(p.ScoreCount)
}

// File represents a generated artifact tracked on disk.
type File struct {
	ID                  int64
	DocumentID          *int64
	SeriesID            *int64
	Kind                string
	Path                string
	Status              FileStatus
	PromptID            *int64
	RetryCount          int
	ErrorMessage        string
	ProcessingStartedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AllStatuses returns the ordered list of known document statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the document is in an in-flight state.
func (d Document) IsProcessing() bool {
	_, ok := processingStatuses[d.Status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusPermanentlyFailed
}

// CanTransition reports whether moving a document from one status to another
// is legal.
func CanTransition(from, to Status) bool {
	for _, candidate := range statusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// SetFailed marks the document as failed with the given error message and
// clears the in-flight marker.
func (d *Document) SetFailed(message string) {
	d.Status = StatusFailed
	d.ErrorMessage = message
	d.ProcessingStartedAt = nil
}

// ResumePoint derives the checkpoint a failed document should resume from,
// based on which artifacts were already persisted. Manual edits to artifacts
// therefore move the resume point naturally.
func (d Document) ResumePoint() Status {
	switch {
	case d.SeriesID != nil:
		return StatusFiled
	case d.Summary != "":
		return StatusSummarized
	case d.ClassificationJSON != "":
		return StatusClassified
	case d.OCRText != "":
		return StatusOCRCompleted
	default:
		return StatusPending
	}
}

// IsFileProcessingStatus reports whether a file status reflects generation in flight.
func IsFileProcessingStatus(status FileStatus) bool {
	return status == FileStatusGenerating || status == FileStatusRegenerating
}

// FileRollbackTarget returns the checkpoint a generating file resumes from.
func FileRollbackTarget(status FileStatus) (FileStatus, bool) {
	target, ok := fileRollbackTargets[status]
	return target, ok
}

// ParseFileStatus converts a string into a known FileStatus.
func ParseFileStatus(value string) (FileStatus, bool) {
	normalized := FileStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case FileStatusPending, FileStatusOutdated, FileStatusGenerating, FileStatusRegenerating, FileStatusGenerated, FileStatusFailed:
		return normalized, true
	default:
		return "", false
	}
}
