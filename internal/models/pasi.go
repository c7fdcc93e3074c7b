package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// EmailNotFound is the sentinel stored when no contact address could be
// resolved for an ASN.
const EmailNotFound = "not found"

// Placeholder is the dash default for missing roster fields.
const Placeholder = "-"

// RecordStatus is the enrollment lifecycle label reported by PASI.
type RecordStatus string

const (
	RecordStatusActive     RecordStatus = "Active"
	RecordStatusCompleted  RecordStatus = "Completed"
	RecordStatusUnenrolled RecordStatus = "Unenrolled"
	RecordStatusWithdrawn  RecordStatus = "Withdrawn"
)

// TermFullYear is the default term when the roster leaves it blank.
const TermFullYear = "Full Year"

var schoolYearPattern = regexp.MustCompile(`^\d{2}[/_]\d{2}$`)

// SchoolYear is the partition key for all reconciliation work. The canonical
// in-store form uses an underscore ("23_24"); the roster and API use the slash
// form ("23/24").
type SchoolYear string

// ParseSchoolYear accepts either form and canonicalises to underscore.
func ParseSchoolYear(raw string) (SchoolYear, error) {
	trimmed := strings.TrimSpace(raw)
	if !schoolYearPattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid school year %q: want NN/NN or NN_NN", raw)
	}
	return SchoolYear(strings.ReplaceAll(trimmed, "/", "_")), nil
}

// Underscore returns the store partition form.
func (y SchoolYear) Underscore() string {
	return strings.ReplaceAll(string(y), "/", "_")
}

// Slash returns the display form used by the roster system.
func (y SchoolYear) Slash() string {
	return strings.ReplaceAll(string(y), "_", "/")
}

// NaturalKey uniquely names one logical enrollment row independent of any
// storage-assigned id.
type NaturalKey string

// MakeNaturalKey derives the stable key from the record's identifying
// components. Two rows with equal components collide to the same key
// regardless of upload order.
func MakeNaturalKey(asn, courseCode string, year SchoolYear, period string) NaturalKey {
	parts := []string{
		strings.TrimSpace(asn),
		strings.TrimSpace(courseCode),
		year.Underscore(),
		strings.TrimSpace(period),
	}
	return NaturalKey(strings.ToLower(strings.Join(parts, "_")))
}

// AlternateVersion is the reduced view of a raw roster row that deduplicated
// into a canonical record. The slice on PasiRecord is always present; a
// duplicate exists iff it holds more than one element.
type AlternateVersion struct {
	Status          RecordStatus `json:"status"`
	Term            string       `json:"term"`
	ExitDate        string       `json:"exit_date"`
	Value           string       `json:"value"`
	Approved        string       `json:"approved"`
	ReferenceNumber string       `json:"reference_number"`
	WorkItems       string       `json:"work_items"`
}

// PasiRecord is one row of truth per enrollment-per-term within a school-year
// partition.
type PasiRecord struct {
	ID                NaturalKey         `db:"natural_key" json:"id"`
	ASN               string             `db:"asn" json:"asn"`
	Email             string             `db:"email" json:"email"`
	StudentName       string             `db:"student_name" json:"student_name"`
	CourseCode        string             `db:"course_code" json:"course_code"`
	CourseDescription string             `db:"course_description" json:"course_description"`
	Status            RecordStatus       `db:"status" json:"status"`
	Period            string             `db:"period" json:"period"`
	Term              string             `db:"term" json:"term"`
	SchoolYear        SchoolYear         `db:"school_year" json:"school_year"`
	Value             string             `db:"value" json:"value"`
	Approved          string             `db:"approved" json:"approved"`
	AssignmentDate    string             `db:"assignment_date" json:"assignment_date"`
	CreditsAttempted  string             `db:"credits_attempted" json:"credits_attempted"`
	Deleted           string             `db:"deleted" json:"deleted"`
	DualEnrolment     string             `db:"dual_enrolment" json:"dual_enrolment"`
	ExitDate          string             `db:"exit_date" json:"exit_date"`
	FundingRequested  string             `db:"funding_requested" json:"funding_requested"`
	ReferenceNumber   string             `db:"reference_number" json:"reference_number"`
	WorkItems         string             `db:"work_items" json:"work_items"`
	Linked            bool               `db:"linked" json:"linked"`
	LinkedAt          *time.Time         `db:"linked_at" json:"linked_at,omitempty"`
	SummaryLinkKey    *SummaryKey        `db:"summary_key" json:"summary_link_key,omitempty"`
	AlternateVersions []AlternateVersion `db:"-" json:"alternate_versions"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// HasDuplicates reports whether multiple roster rows collapsed into this
// record in the most recent upload.
func (r *PasiRecord) HasDuplicates() bool {
	return len(r.AlternateVersions) > 1
}

// ComparableEquals reports whether the roster-sourced fields match. Link
// bookkeeping (Linked, LinkedAt, SummaryLinkKey) is deliberately excluded:
// it is owned by the link resolver, not the roster.
func (r *PasiRecord) ComparableEquals(other *PasiRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ASN == other.ASN &&
		r.StudentName == other.StudentName &&
		r.CourseCode == other.CourseCode &&
		r.CourseDescription == other.CourseDescription &&
		r.Status == other.Status &&
		r.Period == other.Period &&
		r.Value == other.Value &&
		r.Approved == other.Approved &&
		r.AssignmentDate == other.AssignmentDate &&
		r.CreditsAttempted == other.CreditsAttempted &&
		r.Deleted == other.Deleted &&
		r.DualEnrolment == other.DualEnrolment &&
		r.ExitDate == other.ExitDate &&
		r.FundingRequested == other.FundingRequested &&
		r.Term == other.Term &&
		r.ReferenceNumber == other.ReferenceNumber
}

// StripASN removes the conventional hyphen separators from an ASN so that
// "1234-5678-9" and "123456789" compare equal during fallback matching.
func StripASN(asn string) string {
	return strings.ReplaceAll(strings.TrimSpace(asn), "-", "")
}
