package models

// Roster CSV header names as emitted by the PASI export.
const (
	HeaderASN               = "ASN"
	HeaderWorkItems         = "Work Items"
	HeaderCourseCode        = "Code"
	HeaderStudentName       = "Student Name"
	HeaderCourseDescription = "Description"
	HeaderStatus            = "Status"
	HeaderSchoolEnrolment   = "School Enrolment"
	HeaderPeriod            = "Period"
	HeaderValue             = "Value"
	HeaderApproved          = "Approved?"
	HeaderAssignmentDate    = "Assignment Date"
	HeaderCreditsAttempted  = "Credits Attempted"
	HeaderDeleted           = "Deleted"
	HeaderDualEnrolment     = "Dual Enrolment"
	HeaderExitDate          = "Exit Date"
	HeaderFundingRequested  = "Funding Requested"
	HeaderTerm              = "Term"
	HeaderReferenceNumber   = "Reference #"
)

// RosterHeaders is the full expected header set, in export order. Missing
// optional columns are tolerated; a missing ASN column is fatal.
var RosterHeaders = []string{
	HeaderASN,
	HeaderWorkItems,
	HeaderCourseCode,
	HeaderStudentName,
	HeaderCourseDescription,
	HeaderStatus,
	HeaderSchoolEnrolment,
	HeaderPeriod,
	HeaderValue,
	HeaderApproved,
	HeaderAssignmentDate,
	HeaderCreditsAttempted,
	HeaderDeleted,
	HeaderDualEnrolment,
	HeaderExitDate,
	HeaderFundingRequested,
	HeaderTerm,
	HeaderReferenceNumber,
}

// RawRosterRow is one CSV row keyed by header name, untouched apart from
// encoding.
type RawRosterRow map[string]string

// ASNDirectoryEntry is one row of the externally maintained ASN registry:
// candidate sanitized email keys with a preference bit each.
type ASNDirectoryEntry struct {
	ASN       string          `db:"asn" json:"asn"`
	EmailKeys map[string]bool `db:"-" json:"email_keys"`
}
