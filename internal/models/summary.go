package models

import (
	"fmt"
	"strings"
)

// PlaceholderCourseID is the reserved course id PASI uses for generic or
// ambiguous enrollments. Records resolving to it need a secondary
// disambiguation pass before they can be linked to a concrete course.
const PlaceholderCourseID = 2000

// GenericCourseIDs are exempt from status consistency validation.
var GenericCourseIDs = map[int]struct{}{
	1111:                {},
	PlaceholderCourseID: {},
}

// CourseRefKind tags the outcome of a course-code lookup.
type CourseRefKind int

const (
	// CourseUnknown means the code has no entry in the course map.
	CourseUnknown CourseRefKind = iota
	// CoursePlaceholder means the code maps to the reserved generic id.
	CoursePlaceholder
	// CourseResolved means the code maps to a concrete course id.
	CourseResolved
)

// CourseRef is the result of resolving a roster course code against the
// internal course catalogue.
type CourseRef struct {
	Kind CourseRefKind
	ID   int
}

// CourseMap maps upper-cased roster course codes to internal course ids.
type CourseMap map[string]int

// Resolve looks up a course code, classifying placeholder and unknown codes.
func (m CourseMap) Resolve(courseCode string) CourseRef {
	id, ok := m[strings.ToUpper(strings.TrimSpace(courseCode))]
	if !ok {
		return CourseRef{Kind: CourseUnknown}
	}
	if id == PlaceholderCourseID {
		return CourseRef{Kind: CoursePlaceholder, ID: id}
	}
	return CourseRef{Kind: CourseResolved, ID: id}
}

// SanitizeEmail converts an address into its store-key form: lower-cased,
// trimmed, dots replaced with commas.
func SanitizeEmail(email string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(email)), ".", ",")
}

// UnsanitizeEmail reverses SanitizeEmail.
func UnsanitizeEmail(key string) string {
	return strings.ReplaceAll(key, ",", ".")
}

// SummaryKey identifies a StudentCourseSummary: sanitized email joined with
// the internal course id.
type SummaryKey string

// MakeSummaryKey builds the composite key from its components.
func MakeSummaryKey(email string, courseID int) SummaryKey {
	return SummaryKey(fmt.Sprintf("%s_%d", SanitizeEmail(email), courseID))
}

// PasiLink is the embedded link entry stored in a summary's link map under the
// lower-cased course code.
type PasiLink struct {
	CourseDescription string     `json:"course_description"`
	CreditsAttempted  string     `json:"credits_attempted"`
	Term              string     `json:"term"`
	Period            string     `json:"period"`
	SchoolYear        string     `json:"school_year"`
	StudentName       string     `json:"student_name"`
	SourceRecordID    NaturalKey `json:"source_record_id"`
}

// StudentCourseSummary is the read-optimised per-student-per-course aggregate.
// It is owned by the enrollment system; reconciliation only reads it and
// maintains the PasiLinks submap plus the review flags.
type StudentCourseSummary struct {
	SummaryKey            SummaryKey          `db:"summary_key" json:"summary_key"`
	ASN                   string              `db:"asn" json:"asn"`
	StudentName           string              `db:"student_name" json:"student_name"`
	CourseID              int                 `db:"course_id" json:"course_id"`
	Status                string              `db:"status" json:"status"`
	NeedsCourseAssignment bool                `db:"needs_course_assignment" json:"needs_course_assignment"`
	StatusMismatch        bool                `db:"status_mismatch" json:"status_mismatch"`
	PasiLinks             map[string]PasiLink `db:"-" json:"pasi_links"`
}

// LinkFor returns the link entry for a course code, if present.
func (s *StudentCourseSummary) LinkFor(courseCode string) (PasiLink, bool) {
	link, ok := s.PasiLinks[strings.ToLower(courseCode)]
	return link, ok
}
