package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
	appErrors "github.com/rtdacademy/pasi-sync-api/pkg/errors"
)

const rosterHeader = "ASN,Work Items,Code,Student Name,Description,Status,School Enrolment,Period,Value,Approved?,Assignment Date,Credits Attempted,Deleted,Dual Enrolment,Exit Date,Funding Requested,Term,Reference #"

func testYear(t *testing.T) models.SchoolYear {
	t.Helper()
	year, err := models.ParseSchoolYear("23/24")
	require.NoError(t, err)
	return year
}

func parseRoster(t *testing.T, rows ...string) ([]models.PasiRecord, error) {
	t.Helper()
	svc := NewRosterService(nil)
	csv := strings.Join(append([]string{rosterHeader}, rows...), "\n")
	return svc.ParseRoster([]byte(csv), testYear(t))
}

func TestParseRosterNormalizesAndDefaults(t *testing.T) {
	records, err := parseRoster(t,
		`1234-5678-9,WI-1,eng30,Jane Doe,English 30-1,,RTD Academy,,,,,,,,,,,`)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, models.NaturalKey("1234-5678-9_eng30_23_24_regular"), rec.ID)
	require.Equal(t, "ENG30", rec.CourseCode)
	require.Equal(t, models.RecordStatusActive, rec.Status)
	require.Equal(t, models.TermFullYear, rec.Term)
	require.Equal(t, models.EmailNotFound, rec.Email)
	require.Equal(t, models.Placeholder, rec.Value)
	require.Equal(t, models.Placeholder, rec.ExitDate)
	require.Empty(t, rec.AlternateVersions)
}

func TestParseRosterBlankASNFatalWithRowIndex(t *testing.T) {
	_, err := parseRoster(t,
		`1234-5678-9,WI-1,ENG30,Jane Doe,English 30-1,Active,RTD Academy,Regular,,,,,,,,,Full Year,`,
		`,WI-2,MAT30,John Roe,Math 30-1,Active,RTD Academy,Regular,,,,,,,,,Full Year,`)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrRosterInvalid.Code, appErr.Code)
	require.Contains(t, appErr.Message, "row 2")
}

func TestParseRosterMissingASNColumnFatal(t *testing.T) {
	svc := NewRosterService(nil)
	_, err := svc.ParseRoster([]byte("Code,Status\nENG30,Active"), testYear(t))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrRosterInvalid.Code, appErrors.FromError(err).Code)
}

func TestDeduplicateCompletedWins(t *testing.T) {
	records, err := parseRoster(t,
		`1234-5678-9,WI-1,ENG30,Jane Doe,English 30-1,Active,RTD Academy,Regular,,,,,,,2024-01-15,,Full Year,R-1`,
		`1234-5678-9,WI-2,ENG30,Jane Doe,English 30-1,Completed,RTD Academy,Regular,85,Yes,,,,,2024-01-10,,Full Year,R-2`)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, models.RecordStatusCompleted, rec.Status)
	require.Equal(t, "85", rec.Value)
	require.Equal(t, "R-2", rec.ReferenceNumber)
	require.Len(t, rec.AlternateVersions, 2)
	require.Equal(t, models.RecordStatusCompleted, rec.AlternateVersions[0].Status)
	require.True(t, rec.HasDuplicates())
}

func TestDeduplicateLatestExitDateBreaksTies(t *testing.T) {
	records, err := parseRoster(t,
		`1234-5678-9,WI-1,ENG30,Jane Doe,English 30-1,Active,RTD Academy,Regular,,,,,,,2024-01-10,,Full Year,R-1`,
		`1234-5678-9,WI-2,ENG30,Jane Doe,English 30-1,Active,RTD Academy,Regular,,,,,,,2024-03-01,,Full Year,R-2`,
		`1234-5678-9,WI-3,ENG30,Jane Doe,English 30-1,Active,RTD Academy,Regular,,,,,,,-,,Full Year,R-3`)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, "2024-03-01", rec.ExitDate)
	require.Equal(t, "R-2", rec.ReferenceNumber)
	require.Len(t, rec.AlternateVersions, 3)
	// placeholder dates sort as earliest possible
	require.Equal(t, "-", rec.AlternateVersions[2].ExitDate)
}

func TestSingletonGroupCarriesNoAlternateVersions(t *testing.T) {
	records, err := parseRoster(t,
		`1234-5678-9,WI-1,ENG30,Jane Doe,English 30-1,Completed,RTD Academy,Regular,90,Yes,,,,,2024-06-01,,Full Year,R-1`)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Empty(t, records[0].AlternateVersions)
	require.False(t, records[0].HasDuplicates())
}

func TestDeduplicateDistinctPeriodsStaySeparate(t *testing.T) {
	records, err := parseRoster(t,
		`1234-5678-9,WI-1,ENG30,Jane Doe,English 30-1,Active,RTD Academy,Regular,,,,,,,,,Full Year,`,
		`1234-5678-9,WI-2,ENG30,Jane Doe,English 30-1,Active,RTD Academy,Summer,,,,,,,,,Full Year,`)
	require.NoError(t, err)
	require.Len(t, records, 2)
}
