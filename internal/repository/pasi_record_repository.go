package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

const pasiRecordColumns = `natural_key, asn, email, student_name, course_code, course_description,
       status, period, term, school_year, value, approved, assignment_date, credits_attempted,
       deleted, dual_enrolment, exit_date, funding_requested, reference_number, work_items,
       linked, linked_at, summary_key, alternate_versions, updated_at`

// PasiRecordRepository reads the flat PASI record partition snapshots.
// Writes go through MutationRepository so they commit per chunk.
type PasiRecordRepository struct {
	db *sqlx.DB
}

// NewPasiRecordRepository constructs the repository.
func NewPasiRecordRepository(db *sqlx.DB) *PasiRecordRepository {
	return &PasiRecordRepository{db: db}
}

type pasiRecordRow struct {
	models.PasiRecord
	AlternateVersionsJSON []byte `db:"alternate_versions"`
}

func (row *pasiRecordRow) toRecord() (models.PasiRecord, error) {
	rec := row.PasiRecord
	if len(row.AlternateVersionsJSON) > 0 {
		if err := json.Unmarshal(row.AlternateVersionsJSON, &rec.AlternateVersions); err != nil {
			return rec, fmt.Errorf("decode alternate versions for %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// ListBySchoolYear returns the full stored record set for one partition; this
// is the read half of the run's read-then-diff-then-write barrier.
func (r *PasiRecordRepository) ListBySchoolYear(ctx context.Context, year models.SchoolYear) ([]models.PasiRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM pasi_records WHERE school_year = $1 ORDER BY natural_key`, pasiRecordColumns)
	var rows []pasiRecordRow
	if err := r.db.SelectContext(ctx, &rows, query, year.Underscore()); err != nil {
		return nil, fmt.Errorf("list pasi records for %s: %w", year.Slash(), err)
	}
	records := make([]models.PasiRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// FindByID returns one record by natural key.
func (r *PasiRecordRepository) FindByID(ctx context.Context, id models.NaturalKey) (*models.PasiRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM pasi_records WHERE natural_key = $1`, pasiRecordColumns)
	var row pasiRecordRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
