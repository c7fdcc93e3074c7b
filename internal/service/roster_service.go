package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
	appErrors "github.com/rtdacademy/pasi-sync-api/pkg/errors"
)

// exit dates arrive in either ISO or North American form depending on which
// PASI screen produced the export.
var exitDateLayouts = []string{"2006-01-02", "01/02/2006", "Jan 2, 2006"}

// RosterService parses a PASI CSV export into canonical records: one
// normalised, deduplicated PasiRecord per natural key.
type RosterService struct {
	logger *zap.Logger
}

// NewRosterService constructs RosterService.
func NewRosterService(logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{logger: logger}
}

// ParseRoster reads CSV bytes for one school-year partition and returns the
// deduplicated record set in first-seen order.
func (s *RosterService) ParseRoster(data []byte, year models.SchoolYear) ([]models.PasiRecord, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRosterInvalid.Code, appErrors.ErrRosterInvalid.Status, "roster is empty or not valid CSV")
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	if _, ok := columns[models.HeaderASN]; !ok {
		return nil, appErrors.Clone(appErrors.ErrRosterInvalid, "roster is missing the ASN column")
	}
	for _, name := range models.RosterHeaders {
		if _, ok := columns[name]; !ok {
			s.logger.Warn("roster column missing, fields will default", zap.String("column", name))
		}
	}

	var raws []models.RawRosterRow
	for rowIdx := 1; ; rowIdx++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrRosterInvalid.Code, appErrors.ErrRosterInvalid.Status,
				fmt.Sprintf("row %d: malformed CSV", rowIdx))
		}
		raw := make(models.RawRosterRow, len(columns))
		for name, idx := range columns {
			if idx < len(fields) {
				raw[name] = strings.TrimSpace(fields[idx])
			}
		}
		if raw[models.HeaderASN] == "" {
			return nil, appErrors.Clone(appErrors.ErrRosterInvalid, fmt.Sprintf("row %d: ASN is required", rowIdx))
		}
		raws = append(raws, raw)
	}

	return s.deduplicate(raws, year), nil
}

// NormalizeRow converts one raw row into a record candidate. Pure: the row is
// trimmed, case-normalised and defaulted, and the natural key derived.
func NormalizeRow(raw models.RawRosterRow, year models.SchoolYear) models.PasiRecord {
	get := func(name string) string {
		if v := strings.TrimSpace(raw[name]); v != "" {
			return v
		}
		return models.Placeholder
	}

	status := models.RecordStatus(strings.TrimSpace(raw[models.HeaderStatus]))
	if status == "" {
		status = models.RecordStatusActive
	}
	term := strings.TrimSpace(raw[models.HeaderTerm])
	if term == "" {
		term = models.TermFullYear
	}
	period := strings.TrimSpace(raw[models.HeaderPeriod])
	if period == "" {
		period = "Regular"
	}
	courseCode := strings.ToUpper(strings.TrimSpace(raw[models.HeaderCourseCode]))
	asn := strings.TrimSpace(raw[models.HeaderASN])

	return models.PasiRecord{
		ID:                models.MakeNaturalKey(asn, courseCode, year, period),
		ASN:               asn,
		Email:             models.EmailNotFound,
		StudentName:       get(models.HeaderStudentName),
		CourseCode:        courseCode,
		CourseDescription: get(models.HeaderCourseDescription),
		Status:            status,
		Period:            period,
		Term:              term,
		SchoolYear:        year,
		Value:             get(models.HeaderValue),
		Approved:          get(models.HeaderApproved),
		AssignmentDate:    get(models.HeaderAssignmentDate),
		CreditsAttempted:  get(models.HeaderCreditsAttempted),
		Deleted:           get(models.HeaderDeleted),
		DualEnrolment:     get(models.HeaderDualEnrolment),
		ExitDate:          get(models.HeaderExitDate),
		FundingRequested:  get(models.HeaderFundingRequested),
		ReferenceNumber:   get(models.HeaderReferenceNumber),
		WorkItems:         get(models.HeaderWorkItems),
		AlternateVersions: nil,
	}
}

// deduplicate groups candidates by natural key and collapses each group to a
// canonical representative. PASI emits one row per work item, so several rows
// can describe the same enrollment.
func (s *RosterService) deduplicate(raws []models.RawRosterRow, year models.SchoolYear) []models.PasiRecord {
	type group struct {
		order      int
		candidates []models.PasiRecord
	}
	groups := make(map[models.NaturalKey]*group)
	var keys []models.NaturalKey

	for _, raw := range raws {
		rec := NormalizeRow(raw, year)
		g, ok := groups[rec.ID]
		if !ok {
			g = &group{order: len(keys)}
			groups[rec.ID] = g
			keys = append(keys, rec.ID)
		}
		g.candidates = append(g.candidates, rec)
	}

	out := make([]models.PasiRecord, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		canonical := collapseGroup(g.candidates)
		if len(g.candidates) > 1 {
			s.logger.Debug("collapsed duplicate roster rows",
				zap.String("natural_key", string(key)),
				zap.Int("rows", len(g.candidates)))
		}
		out = append(out, canonical)
	}
	return out
}

// collapseGroup orders candidates (Completed first, then latest exit date) and
// merges the winner's volatile fields into the first-seen row. The full sorted
// group is retained as AlternateVersions only when the group has more than one
// row; singleton groups must carry an empty slice so a key that was once
// duplicated and now is not sheds its stale versions.
func collapseGroup(candidates []models.PasiRecord) models.PasiRecord {
	merged := candidates[0]
	if len(candidates) == 1 {
		merged.AlternateVersions = nil
		return merged
	}

	ordered := make([]models.PasiRecord, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		ci := ordered[i].Status == models.RecordStatusCompleted
		cj := ordered[j].Status == models.RecordStatusCompleted
		if ci != cj {
			return ci
		}
		return parseExitDate(ordered[i].ExitDate).After(parseExitDate(ordered[j].ExitDate))
	})

	winner := ordered[0]
	merged.Status = winner.Status
	merged.Term = winner.Term
	merged.ExitDate = winner.ExitDate
	merged.Value = winner.Value
	merged.Approved = winner.Approved
	merged.ReferenceNumber = winner.ReferenceNumber

	versions := make([]models.AlternateVersion, len(ordered))
	for i, c := range ordered {
		versions[i] = models.AlternateVersion{
			Status:          c.Status,
			Term:            c.Term,
			ExitDate:        c.ExitDate,
			Value:           c.Value,
			Approved:        c.Approved,
			ReferenceNumber: c.ReferenceNumber,
			WorkItems:       c.WorkItems,
		}
	}
	merged.AlternateVersions = versions
	return merged
}

// parseExitDate treats missing or unparseable dates as the earliest possible
// time so they sort last under the descending rule.
func parseExitDate(raw string) time.Time {
	if raw == "" || raw == models.Placeholder {
		return time.Time{}
	}
	for _, layout := range exitDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
