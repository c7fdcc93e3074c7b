package models

import (
	"encoding/json"
	"time"
)

// ChangeKind classifies a record against the stored partition snapshot.
type ChangeKind string

const (
	ChangeNew       ChangeKind = "NEW"
	ChangeUpdated   ChangeKind = "UPDATED"
	ChangeUnchanged ChangeKind = "UNCHANGED"
	ChangeRemoved   ChangeKind = "REMOVED"
)

// MutationKind dispatches a mutation to the right store write.
type MutationKind string

const (
	MutationRecordUpsert MutationKind = "RECORD_UPSERT"
	MutationRecordDelete MutationKind = "RECORD_DELETE"
	MutationLinkUpsert   MutationKind = "LINK_UPSERT"
	MutationLinkDelete   MutationKind = "LINK_DELETE"
	MutationSummaryFlags MutationKind = "SUMMARY_FLAGS"
	MutationRunReport    MutationKind = "RUN_REPORT"
)

// SummaryFlags carries review-marker updates for a summary. Nil fields are
// left untouched.
type SummaryFlags struct {
	NeedsCourseAssignment *bool `json:"needs_course_assignment,omitempty"`
	StatusMismatch        *bool `json:"status_mismatch,omitempty"`
}

// Mutation is one store write produced by the reconciliation pipeline. The
// batched writer groups mutations into chunks; each chunk is applied in a
// single transaction.
type Mutation struct {
	Kind       MutationKind
	RecordID   NaturalKey
	Record     *PasiRecord
	SummaryKey SummaryKey
	CourseCode string
	Link       *PasiLink
	Flags      *SummaryFlags
	RunID      string
	Report     *SyncReport
}

// Diagnostic reports whether the mutation belongs to the reporting namespace.
// Diagnostic writes are queued after all user-visible data.
func (m Mutation) Diagnostic() bool {
	return m.Kind == MutationRunReport
}

// LinkFailure records a single per-item failure during link processing.
type LinkFailure struct {
	RecordID NaturalKey `json:"record_id"`
	ASN      string     `json:"asn"`
	Reason   string     `json:"reason"`
}

// CourseMappingIssue flags a record whose course code could not be resolved
// to a concrete course id.
type CourseMappingIssue struct {
	RecordID   NaturalKey `json:"record_id"`
	ASN        string     `json:"asn"`
	CourseCode string     `json:"course_code"`
	SummaryKey SummaryKey `json:"summary_key,omitempty"`
}

// MissingRecordDetail describes a stored record absent from the new upload.
type MissingRecordDetail struct {
	RecordID    NaturalKey `json:"record_id"`
	ASN         string     `json:"asn"`
	StudentName string     `json:"student_name"`
	CourseCode  string     `json:"course_code"`
	SummaryKey  SummaryKey `json:"summary_key,omitempty"`
}

// StatusMismatchDetail describes a roster/summary status incompatibility.
type StatusMismatchDetail struct {
	RecordID      NaturalKey   `json:"record_id"`
	ASN           string       `json:"asn"`
	CourseCode    string       `json:"course_code"`
	SummaryKey    SummaryKey   `json:"summary_key"`
	PasiStatus    RecordStatus `json:"pasi_status"`
	SummaryStatus string       `json:"summary_status"`
}

// ExistingLinksReport summarises the pass over already-linked records.
type ExistingLinksReport struct {
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	Failed    []LinkFailure `json:"failed"`
}

// NewLinksReport summarises the pass over new and unlinked records.
type NewLinksReport struct {
	Processed                int                  `json:"processed"`
	Created                  int                  `json:"created"`
	NeedsManualCourseMapping []CourseMappingIssue `json:"needs_manual_course_mapping"`
	Failed                   []LinkFailure        `json:"failed"`
}

// MissingRecordsReport lists records removed by this upload.
type MissingRecordsReport struct {
	Total   int                   `json:"total"`
	Details []MissingRecordDetail `json:"details"`
}

// StatusMismatchReport lists detected roster/summary status conflicts.
type StatusMismatchReport struct {
	Total   int                    `json:"total"`
	Details []StatusMismatchDetail `json:"details"`
}

// ChangeCounts tallies diff classifications for a run.
type ChangeCounts struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
}

// MissingEmailReport lists ASNs with no resolvable contact address.
type MissingEmailReport struct {
	Total int      `json:"total"`
	ASNs  []string `json:"asns"`
}

// SyncReport is the structured result returned to the caller and persisted
// with the run.
type SyncReport struct {
	Timestamp        time.Time            `json:"timestamp"`
	InitiatedBy      string               `json:"initiated_by"`
	SchoolYear       string               `json:"school_year"`
	Changes          ChangeCounts         `json:"changes"`
	ExistingLinks    ExistingLinksReport  `json:"existing_links"`
	NewLinks         NewLinksReport       `json:"new_links"`
	MissingRecords   MissingRecordsReport `json:"missing_records"`
	StatusMismatches StatusMismatchReport `json:"status_mismatches"`
	MissingEmails    MissingEmailReport   `json:"missing_emails"`
}

// ReportFormat selects the rendering for a downloaded run report.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// SyncRunStatus tracks the lifecycle of a persisted run.
type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "RUNNING"
	SyncRunCompleted SyncRunStatus = "COMPLETED"
	SyncRunFailed    SyncRunStatus = "FAILED"
)

// SyncRun is the persisted record of one reconciliation invocation.
type SyncRun struct {
	ID          string          `db:"id" json:"id"`
	SchoolYear  SchoolYear      `db:"school_year" json:"school_year"`
	InitiatedBy string          `db:"initiated_by" json:"initiated_by"`
	Status      SyncRunStatus   `db:"status" json:"status"`
	StartedAt   time.Time       `db:"started_at" json:"started_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	Error       *string         `db:"error" json:"error,omitempty"`
	ReportJSON  json.RawMessage `db:"report" json:"-"`
	Report      *SyncReport     `db:"-" json:"report,omitempty"`
}
