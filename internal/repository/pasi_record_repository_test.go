package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func pasiRecordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"natural_key", "asn", "email", "student_name", "course_code", "course_description",
		"status", "period", "term", "school_year", "value", "approved", "assignment_date",
		"credits_attempted", "deleted", "dual_enrolment", "exit_date", "funding_requested",
		"reference_number", "work_items", "linked", "linked_at", "summary_key",
		"alternate_versions", "updated_at",
	})
}

func TestPasiRecordRepositoryListBySchoolYear(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPasiRecordRepository(db)
	rows := pasiRecordRows().
		AddRow("1234-5678-9_eng30_23_24_regular", "1234-5678-9", "student@example.com",
			"Alex Doe", "ENG30", "English 30-1", "Active", "Regular", "Full Year", "23_24",
			"-", "-", "-", "5", "-", "-", "-", "-", "-", "-", false, nil, nil,
			[]byte(`[{"status":"Active","term":"Full Year","exit_date":"-","value":"-","approved":"-","reference_number":"-","work_items":"-"},{"status":"Completed","term":"Full Year","exit_date":"2024-01-31","value":"85","approved":"Yes","reference_number":"R1","work_items":"-"}]`),
			time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT natural_key, asn")).
		WithArgs("23_24").
		WillReturnRows(rows)

	year, err := models.ParseSchoolYear("23/24")
	require.NoError(t, err)
	records, err := repo.ListBySchoolYear(context.Background(), year)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, models.NaturalKey("1234-5678-9_eng30_23_24_regular"), records[0].ID)
	require.Len(t, records[0].AlternateVersions, 2)
	require.True(t, records[0].HasDuplicates())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPasiRecordRepositoryNullAlternateVersions(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPasiRecordRepository(db)
	rows := pasiRecordRows().
		AddRow("1234-5678-9_mat30_23_24_regular", "1234-5678-9", "student@example.com",
			"Alex Doe", "MAT30", "Math 30-1", "Active", "Regular", "Full Year", "23_24",
			"-", "-", "-", "5", "-", "-", "-", "-", "-", "-", true, time.Now(), "student@example,com_93",
			nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT natural_key, asn")).
		WithArgs("1234-5678-9_mat30_23_24_regular").
		WillReturnRows(rows)

	record, err := repo.FindByID(context.Background(), "1234-5678-9_mat30_23_24_regular")
	require.NoError(t, err)
	require.Empty(t, record.AlternateVersions)
	require.True(t, record.Linked)
	require.NotNil(t, record.SummaryLinkKey)
	require.Equal(t, models.SummaryKey("student@example,com_93"), *record.SummaryLinkKey)
	require.NoError(t, mock.ExpectationsWereMet())
}
