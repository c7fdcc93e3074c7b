package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

// CourseCodeRepository reads the PASI course code to internal course id
// mapping table.
type CourseCodeRepository struct {
	db *sqlx.DB
}

// NewCourseCodeRepository constructs the repository.
func NewCourseCodeRepository(db *sqlx.DB) *CourseCodeRepository {
	return &CourseCodeRepository{db: db}
}

type courseCodeRow struct {
	CourseCode string `db:"course_code"`
	CourseID   int    `db:"course_id"`
}

// Map returns the full mapping, keyed by upper-cased course code.
func (r *CourseCodeRepository) Map(ctx context.Context) (models.CourseMap, error) {
	const query = `SELECT course_code, course_id FROM course_codes`
	var rows []courseCodeRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("load course code map: %w", err)
	}
	mapping := make(models.CourseMap, len(rows))
	for _, row := range rows {
		mapping[strings.ToUpper(row.CourseCode)] = row.CourseID
	}
	return mapping, nil
}
