package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

// SummaryRepository reads the per-student-per-course summary aggregates.
// Summaries are owned by the enrollment system; reconciliation only follows
// their link submaps and review flags.
type SummaryRepository struct {
	db *sqlx.DB
}

// NewSummaryRepository constructs the repository.
func NewSummaryRepository(db *sqlx.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

type summaryRow struct {
	models.StudentCourseSummary
	PasiLinksJSON []byte `db:"pasi_links"`
}

func (row *summaryRow) toSummary() (models.StudentCourseSummary, error) {
	summary := row.StudentCourseSummary
	summary.PasiLinks = map[string]models.PasiLink{}
	if len(row.PasiLinksJSON) > 0 {
		if err := json.Unmarshal(row.PasiLinksJSON, &summary.PasiLinks); err != nil {
			return summary, fmt.Errorf("decode pasi links for %s: %w", summary.SummaryKey, err)
		}
	}
	return summary, nil
}

// List returns every summary with its decoded link map.
func (r *SummaryRepository) List(ctx context.Context) ([]models.StudentCourseSummary, error) {
	const query = `SELECT summary_key, asn, student_name, course_id, status,
       needs_course_assignment, status_mismatch, pasi_links
       FROM student_course_summaries ORDER BY summary_key`
	var rows []summaryRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	summaries := make([]models.StudentCourseSummary, 0, len(rows))
	for i := range rows {
		summary, err := rows[i].toSummary()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// FindByKey returns one summary.
func (r *SummaryRepository) FindByKey(ctx context.Context, key models.SummaryKey) (*models.StudentCourseSummary, error) {
	const query = `SELECT summary_key, asn, student_name, course_id, status,
       needs_course_assignment, status_mismatch, pasi_links
       FROM student_course_summaries WHERE summary_key = $1`
	var row summaryRow
	if err := r.db.GetContext(ctx, &row, query, key); err != nil {
		return nil, err
	}
	summary, err := row.toSummary()
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// ClearRunDiagnostics resets mismatch flags for summaries holding a link into
// the given partition. Runs recompute the flags from scratch, so stale state
// from a prior run must not survive.
func (r *SummaryRepository) ClearRunDiagnostics(ctx context.Context, year models.SchoolYear) error {
	const query = `UPDATE student_course_summaries SET status_mismatch = FALSE
       WHERE status_mismatch = TRUE
         AND EXISTS (
             SELECT 1 FROM jsonb_each(COALESCE(pasi_links, '{}'::jsonb)) AS l
             WHERE l.value->>'school_year' = $1
         )`
	if _, err := r.db.ExecContext(ctx, query, year.Slash()); err != nil {
		return fmt.Errorf("clear run diagnostics for %s: %w", year.Slash(), err)
	}
	return nil
}
