package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

// MutationRepository applies reconciliation mutations to the database. A
// chunk is one transaction: either every mutation in it lands or none does.
type MutationRepository struct {
	db *sqlx.DB
}

// NewMutationRepository constructs the repository.
func NewMutationRepository(db *sqlx.DB) *MutationRepository {
	return &MutationRepository{db: db}
}

// ApplyChunk executes a chunk of mutations inside a single transaction.
func (r *MutationRepository) ApplyChunk(ctx context.Context, chunk []models.Mutation) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range chunk {
		if err := applyMutation(ctx, tx, &chunk[i]); err != nil {
			return fmt.Errorf("mutation %d (%s): %w", i, chunk[i].Kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk: %w", err)
	}
	return nil
}

func applyMutation(ctx context.Context, tx *sqlx.Tx, mutation *models.Mutation) error {
	switch mutation.Kind {
	case models.MutationRecordUpsert:
		return upsertRecord(ctx, tx, mutation.Record)
	case models.MutationRecordDelete:
		return deleteRecord(ctx, tx, mutation.RecordID)
	case models.MutationLinkUpsert:
		return upsertLink(ctx, tx, mutation.SummaryKey, mutation.CourseCode, mutation.Link)
	case models.MutationLinkDelete:
		return deleteLink(ctx, tx, mutation.SummaryKey, mutation.CourseCode)
	case models.MutationSummaryFlags:
		return updateSummaryFlags(ctx, tx, mutation.SummaryKey, mutation.Flags)
	case models.MutationRunReport:
		return storeRunReport(ctx, tx, mutation.RunID, mutation.Report)
	default:
		return fmt.Errorf("unknown mutation kind %q", mutation.Kind)
	}
}

func upsertRecord(ctx context.Context, tx *sqlx.Tx, record *models.PasiRecord) error {
	if record == nil {
		return fmt.Errorf("record upsert without record")
	}
	alternates, err := json.Marshal(record.AlternateVersions)
	if err != nil {
		return fmt.Errorf("encode alternate versions: %w", err)
	}
	if len(record.AlternateVersions) == 0 {
		alternates = []byte("null")
	}
	const query = `INSERT INTO pasi_records
	(natural_key, asn, email, student_name, course_code, course_description,
	 status, period, term, school_year, value, approved, assignment_date,
	 credits_attempted, deleted, dual_enrolment, exit_date, funding_requested,
	 reference_number, work_items, linked, linked_at, summary_key,
	 alternate_versions, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,NOW())
	ON CONFLICT (natural_key) DO UPDATE SET
	 asn = EXCLUDED.asn, email = EXCLUDED.email,
	 student_name = EXCLUDED.student_name, course_code = EXCLUDED.course_code,
	 course_description = EXCLUDED.course_description, status = EXCLUDED.status,
	 period = EXCLUDED.period, term = EXCLUDED.term,
	 school_year = EXCLUDED.school_year, value = EXCLUDED.value,
	 approved = EXCLUDED.approved, assignment_date = EXCLUDED.assignment_date,
	 credits_attempted = EXCLUDED.credits_attempted, deleted = EXCLUDED.deleted,
	 dual_enrolment = EXCLUDED.dual_enrolment, exit_date = EXCLUDED.exit_date,
	 funding_requested = EXCLUDED.funding_requested,
	 reference_number = EXCLUDED.reference_number, work_items = EXCLUDED.work_items,
	 linked = EXCLUDED.linked, linked_at = EXCLUDED.linked_at,
	 summary_key = EXCLUDED.summary_key,
	 alternate_versions = EXCLUDED.alternate_versions, updated_at = NOW()`
	_, err = tx.ExecContext(ctx, query,
		record.ID, record.ASN, record.Email, record.StudentName,
		record.CourseCode, record.CourseDescription, record.Status,
		record.Period, record.Term, record.SchoolYear.Underscore(),
		record.Value, record.Approved, record.AssignmentDate,
		record.CreditsAttempted, record.Deleted, record.DualEnrolment,
		record.ExitDate, record.FundingRequested, record.ReferenceNumber,
		record.WorkItems, record.Linked, record.LinkedAt, record.SummaryLinkKey,
		alternates,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", record.ID, err)
	}
	return nil
}

func deleteRecord(ctx context.Context, tx *sqlx.Tx, id models.NaturalKey) error {
	if id == "" {
		return fmt.Errorf("record delete without id")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pasi_records WHERE natural_key = $1`, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func upsertLink(ctx context.Context, tx *sqlx.Tx, key models.SummaryKey, courseCode string, link *models.PasiLink) error {
	if key == "" || courseCode == "" || link == nil {
		return fmt.Errorf("link upsert missing key, course code, or payload")
	}
	payload, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("encode link: %w", err)
	}
	const query = `UPDATE student_course_summaries
	SET pasi_links = jsonb_set(COALESCE(pasi_links, '{}'::jsonb), ARRAY[$2], $3::jsonb)
	WHERE summary_key = $1`
	result, err := tx.ExecContext(ctx, query, key, strings.ToLower(courseCode), payload)
	if err != nil {
		return fmt.Errorf("upsert link %s on %s: %w", courseCode, key, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("upsert link %s on %s: summary not found", courseCode, key)
	}
	return nil
}

func deleteLink(ctx context.Context, tx *sqlx.Tx, key models.SummaryKey, courseCode string) error {
	if key == "" || courseCode == "" {
		return fmt.Errorf("link delete missing key or course code")
	}
	const query = `UPDATE student_course_summaries
	SET pasi_links = COALESCE(pasi_links, '{}'::jsonb) - $2
	WHERE summary_key = $1`
	if _, err := tx.ExecContext(ctx, query, key, strings.ToLower(courseCode)); err != nil {
		return fmt.Errorf("delete link %s on %s: %w", courseCode, key, err)
	}
	return nil
}

func updateSummaryFlags(ctx context.Context, tx *sqlx.Tx, key models.SummaryKey, flags *models.SummaryFlags) error {
	if key == "" || flags == nil {
		return fmt.Errorf("summary flags missing key or payload")
	}
	assignments := make([]string, 0, 2)
	args := []interface{}{key}
	if flags.NeedsCourseAssignment != nil {
		args = append(args, *flags.NeedsCourseAssignment)
		assignments = append(assignments, fmt.Sprintf("needs_course_assignment = $%d", len(args)))
	}
	if flags.StatusMismatch != nil {
		args = append(args, *flags.StatusMismatch)
		assignments = append(assignments, fmt.Sprintf("status_mismatch = $%d", len(args)))
	}
	if len(assignments) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE student_course_summaries SET %s WHERE summary_key = $1`,
		strings.Join(assignments, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update flags on %s: %w", key, err)
	}
	return nil
}

func storeRunReport(ctx context.Context, tx *sqlx.Tx, runID string, report *models.SyncReport) error {
	if runID == "" || report == nil {
		return fmt.Errorf("run report missing run id or payload")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	const query = `UPDATE sync_runs SET report = $2::jsonb WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, runID, payload)
	if err != nil {
		return fmt.Errorf("store report for run %s: %w", runID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("store report for run %s: run not found", runID)
	}
	return nil
}
