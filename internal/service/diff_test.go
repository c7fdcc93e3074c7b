package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

func makeRecord(t *testing.T, asn, courseCode string) models.PasiRecord {
	t.Helper()
	year := testYear(t)
	return models.PasiRecord{
		ID:          models.MakeNaturalKey(asn, courseCode, year, "Regular"),
		ASN:         asn,
		Email:       models.EmailNotFound,
		StudentName: "Jane Doe",
		CourseCode:  courseCode,
		Status:      models.RecordStatusActive,
		Period:      "Regular",
		Term:        models.TermFullYear,
		SchoolYear:  year,
	}
}

func TestDiffClassifiesAllFourBuckets(t *testing.T) {
	newRec := makeRecord(t, "1111-1111-1", "ENG30")
	changed := makeRecord(t, "2222-2222-2", "MAT30")
	same := makeRecord(t, "3333-3333-3", "SCI30")
	gone := makeRecord(t, "4444-4444-4", "BIO30")

	storedChanged := changed
	storedChanged.Status = models.RecordStatusCompleted

	result := diffPartition(
		[]models.PasiRecord{newRec, changed, same},
		[]models.PasiRecord{storedChanged, same, gone},
	)

	require.Equal(t, models.ChangeCounts{New: 1, Updated: 1, Unchanged: 1, Removed: 1}, result.Counts)
	require.Equal(t, newRec.ID, result.New[0].ID)
	require.Equal(t, changed.ID, result.Updated[0].ID)
	require.Equal(t, same.ID, result.Unchanged[0].ID)
	require.Equal(t, gone.ID, result.Removed[0].ID)
}

func TestDiffNewRecordStartsUnlinked(t *testing.T) {
	rec := makeRecord(t, "1111-1111-1", "ENG30")
	rec.Linked = true // normalizer never sets this, but diff must not trust it

	result := diffPartition([]models.PasiRecord{rec}, nil)
	require.False(t, result.New[0].Linked)
	require.Nil(t, result.New[0].SummaryLinkKey)
}

func TestDiffUpdatedPreservesStoredLinkState(t *testing.T) {
	incoming := makeRecord(t, "1111-1111-1", "ENG30")
	incoming.Status = models.RecordStatusCompleted

	linkedAt := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	summaryKey := models.SummaryKey("student@example,com_89")
	stored := makeRecord(t, "1111-1111-1", "ENG30")
	stored.Linked = true
	stored.LinkedAt = &linkedAt
	stored.SummaryLinkKey = &summaryKey

	result := diffPartition([]models.PasiRecord{incoming}, []models.PasiRecord{stored})
	require.Len(t, result.Updated, 1)
	got := result.Updated[0]
	require.True(t, got.Linked)
	require.Equal(t, &linkedAt, got.LinkedAt)
	require.Equal(t, &summaryKey, got.SummaryLinkKey)
}

func TestDiffStaleAlternateVersionsForceUpdate(t *testing.T) {
	incoming := makeRecord(t, "1111-1111-1", "ENG30")

	stored := makeRecord(t, "1111-1111-1", "ENG30")
	stored.AlternateVersions = []models.AlternateVersion{
		{Status: models.RecordStatusCompleted}, {Status: models.RecordStatusActive},
	}

	result := diffPartition([]models.PasiRecord{incoming}, []models.PasiRecord{stored})
	require.Len(t, result.Updated, 1)
	require.Empty(t, result.Updated[0].AlternateVersions)
}

func TestDiffResolvedEmailChangeForcesUpdate(t *testing.T) {
	incoming := makeRecord(t, "1111-1111-1", "ENG30")
	incoming.Email = "new.address@example.com"

	stored := makeRecord(t, "1111-1111-1", "ENG30")
	stored.Email = "old.address@example.com"

	result := diffPartition([]models.PasiRecord{incoming}, []models.PasiRecord{stored})
	require.Len(t, result.Updated, 1)
	require.Equal(t, "new.address@example.com", result.Updated[0].Email)
}

func TestDiffIdempotentSecondPass(t *testing.T) {
	a := makeRecord(t, "1111-1111-1", "ENG30")
	b := makeRecord(t, "2222-2222-2", "MAT30")

	first := diffPartition([]models.PasiRecord{a, b}, nil)
	require.Equal(t, 2, first.Counts.New)

	// simulate the store after the first run committed
	stored := append(append([]models.PasiRecord{}, first.New...), first.Updated...)
	second := diffPartition([]models.PasiRecord{a, b}, stored)
	require.Equal(t, models.ChangeCounts{Unchanged: 2}, second.Counts)
}

func TestDiffSurviving(t *testing.T) {
	a := makeRecord(t, "1111-1111-1", "ENG30")
	gone := makeRecord(t, "4444-4444-4", "BIO30")

	result := diffPartition([]models.PasiRecord{a}, []models.PasiRecord{gone})
	surviving := result.Surviving()
	require.Contains(t, surviving, a.ID)
	require.NotContains(t, surviving, gone.ID)
}
