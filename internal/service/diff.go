package service

import (
	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

// DiffResult partitions the incoming record set against the stored snapshot.
// Every natural key lands in exactly one bucket.
type DiffResult struct {
	New       []models.PasiRecord
	Updated   []models.PasiRecord
	Unchanged []models.PasiRecord
	Removed   []models.PasiRecord
	Counts    models.ChangeCounts
}

// Surviving returns the set of natural keys present in the new upload.
func (d *DiffResult) Surviving() map[models.NaturalKey]struct{} {
	out := make(map[models.NaturalKey]struct{}, len(d.New)+len(d.Updated)+len(d.Unchanged))
	for _, r := range d.New {
		out[r.ID] = struct{}{}
	}
	for _, r := range d.Updated {
		out[r.ID] = struct{}{}
	}
	for _, r := range d.Unchanged {
		out[r.ID] = struct{}{}
	}
	return out
}

// diffPartition classifies the deduplicated upload against the stored
// partition snapshot. The snapshot must have been fetched before any write of
// the same run: classification never consults the store directly.
//
// Updated records inherit the stored link state; the link resolver may
// recompute it later in the run. A record whose comparable fields match but
// whose alternate-versions list differs still classifies as Updated so a
// stale duplicate list is cleared rather than left behind. The resolved email
// takes part in the comparison too, so a directory change propagates to the
// stored record even when the roster row itself did not move.
func diffPartition(incoming, stored []models.PasiRecord) DiffResult {
	byKey := make(map[models.NaturalKey]*models.PasiRecord, len(stored))
	for i := range stored {
		byKey[stored[i].ID] = &stored[i]
	}

	var result DiffResult
	seen := make(map[models.NaturalKey]struct{}, len(incoming))

	for _, rec := range incoming {
		seen[rec.ID] = struct{}{}
		prev, exists := byKey[rec.ID]
		if !exists {
			rec.Linked = false
			rec.LinkedAt = nil
			rec.SummaryLinkKey = nil
			result.New = append(result.New, rec)
			continue
		}

		rec.Linked = prev.Linked
		rec.LinkedAt = prev.LinkedAt
		rec.SummaryLinkKey = prev.SummaryLinkKey

		if rec.Email == prev.Email && rec.ComparableEquals(prev) && alternateVersionsEqual(rec.AlternateVersions, prev.AlternateVersions) {
			result.Unchanged = append(result.Unchanged, rec)
			continue
		}
		result.Updated = append(result.Updated, rec)
	}

	for _, prev := range stored {
		if _, ok := seen[prev.ID]; !ok {
			result.Removed = append(result.Removed, prev)
		}
	}

	result.Counts = models.ChangeCounts{
		New:       len(result.New),
		Updated:   len(result.Updated),
		Unchanged: len(result.Unchanged),
		Removed:   len(result.Removed),
	}
	return result
}

// alternateVersionsEqual treats any list of at most one element as empty:
// only a real duplicate set is significant.
func alternateVersionsEqual(a, b []models.AlternateVersion) bool {
	if len(a) <= 1 && len(b) <= 1 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
