package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

// SyncRunRepository persists the lifecycle of reconciliation runs.
type SyncRunRepository struct {
	db *sqlx.DB
}

// NewSyncRunRepository constructs the repository.
func NewSyncRunRepository(db *sqlx.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

const syncRunColumns = `id, school_year, initiated_by, status, started_at, completed_at, error, report`

// Create inserts a RUNNING row and fills in id and start time.
func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.SyncRunRunning
	}
	const query = `INSERT INTO sync_runs (id, school_year, initiated_by, status, started_at)
	VALUES (:id, :school_year, :initiated_by, :status, :started_at)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	return nil
}

// Complete marks the run finished. A nil runErr records a COMPLETED run;
// otherwise the run is FAILED with the error message preserved.
func (r *SyncRunRepository) Complete(ctx context.Context, id string, runErr error) error {
	status := models.SyncRunCompleted
	var message *string
	if runErr != nil {
		status = models.SyncRunFailed
		text := runErr.Error()
		message = &text
	}
	const query = `UPDATE sync_runs SET status = $2, completed_at = NOW(), error = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, message)
	if err != nil {
		return fmt.Errorf("complete sync run %s: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("complete sync run %s: run not found", id)
	}
	return nil
}

// FindByID returns one run with its report decoded when present.
func (r *SyncRunRepository) FindByID(ctx context.Context, id string) (*models.SyncRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_runs WHERE id = $1`, syncRunColumns)
	var run models.SyncRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, err
	}
	if err := decodeRunReport(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns runs newest first, optionally filtered to one partition.
func (r *SyncRunRepository) List(ctx context.Context, year *models.SchoolYear, page, pageSize int) ([]models.SyncRun, int, error) {
	where := ""
	args := []interface{}{}
	if year != nil {
		args = append(args, year.Underscore())
		where = "WHERE school_year = $1"
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM sync_runs %s`, where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sync runs: %w", err)
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT %s FROM sync_runs %s ORDER BY started_at DESC LIMIT %d OFFSET %d`,
		syncRunColumns, where, pageSize, offset)
	var runs []models.SyncRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sync runs: %w", err)
	}
	for i := range runs {
		if err := decodeRunReport(&runs[i]); err != nil {
			return nil, 0, err
		}
	}
	return runs, total, nil
}

func decodeRunReport(run *models.SyncRun) error {
	if len(run.ReportJSON) == 0 {
		return nil
	}
	var report models.SyncReport
	if err := json.Unmarshal(run.ReportJSON, &report); err != nil {
		return fmt.Errorf("decode report for run %s: %w", run.ID, err)
	}
	run.Report = &report
	return nil
}
