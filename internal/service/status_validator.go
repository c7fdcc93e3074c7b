package service

import (
	"sort"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

// activeIncompatible lists internal summary statuses that cannot coexist with
// a PASI status of Active.
var activeIncompatible = map[string]struct{}{
	"Completed":            {},
	"Unenrolled":           {},
	"Removed":              {},
	"Removed (Not Funded)": {},
	"Course Completed":     {},
	"✅ Mark Added to PASI": {},
}

// completedCompatible lists the only internal statuses acceptable alongside a
// PASI status of Completed.
var completedCompatible = map[string]struct{}{
	"Completed":            {},
	"Course Completed":     {},
	"Unenrolled":           {},
	"✅ Mark Added to PASI": {},
}

// validateStatusConsistency flags summaries whose internal status is
// semantically incompatible with the roster status of a linked record.
// Summaries for generic/ignored course ids are exempt. The validator only
// flags; it never rewrites either status.
func validateStatusConsistency(records []*models.PasiRecord, summaries map[models.SummaryKey]*models.StudentCourseSummary) (models.StatusMismatchReport, []models.Mutation) {
	report := models.StatusMismatchReport{Details: []models.StatusMismatchDetail{}}
	var mutations []models.Mutation

	flagged := make(map[models.SummaryKey]bool)

	for _, rec := range records {
		if !rec.Linked || rec.SummaryLinkKey == nil {
			continue
		}
		summary, ok := summaries[*rec.SummaryLinkKey]
		if !ok {
			continue
		}
		if _, generic := models.GenericCourseIDs[summary.CourseID]; generic {
			continue
		}

		if statusesConsistent(rec.Status, summary.Status) {
			continue
		}

		flagged[summary.SummaryKey] = true
		report.Details = append(report.Details, models.StatusMismatchDetail{
			RecordID:      rec.ID,
			ASN:           rec.ASN,
			CourseCode:    rec.CourseCode,
			SummaryKey:    summary.SummaryKey,
			PasiStatus:    rec.Status,
			SummaryStatus: summary.Status,
		})
	}

	report.Total = len(report.Details)

	keys := make([]models.SummaryKey, 0, len(summaries))
	for key := range summaries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		summary := summaries[key]
		mismatch := flagged[key]
		if summary.StatusMismatch == mismatch {
			continue
		}
		value := mismatch
		mutations = append(mutations, models.Mutation{
			Kind:       models.MutationSummaryFlags,
			SummaryKey: key,
			Flags:      &models.SummaryFlags{StatusMismatch: &value},
		})
	}

	return report, mutations
}

func statusesConsistent(pasiStatus models.RecordStatus, summaryStatus string) bool {
	switch pasiStatus {
	case models.RecordStatusActive:
		_, incompatible := activeIncompatible[summaryStatus]
		return !incompatible
	case models.RecordStatusCompleted:
		_, compatible := completedCompatible[summaryStatus]
		return compatible
	default:
		return true
	}
}
