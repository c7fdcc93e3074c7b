// Command report_compare diffs a legacy sync report export against a report
// produced by this service for the same roster upload. It is the acceptance
// gate for the migration: counts must match exactly, while detail lists are
// compared as sets so ordering differences between the two systems do not
// flag false diffs.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

type diff struct {
	Field    string
	Legacy   string
	Current  string
	Critical bool
}

func main() {
	var (
		legacyPath  string
		currentPath string
		strict      bool
	)

	flag.StringVar(&legacyPath, "legacy", "", "Path to the legacy system's report JSON")
	flag.StringVar(&currentPath, "current", "", "Path to this service's report JSON (run report or GET runs/:id data)")
	flag.BoolVar(&strict, "strict", false, "Treat detail-list diffs as breaking, not just count diffs")
	flag.Parse()

	if legacyPath == "" || currentPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	legacy, err := loadReport(legacyPath)
	if err != nil {
		log.Fatalf("failed to load legacy report: %v", err)
	}
	current, err := loadReport(currentPath)
	if err != nil {
		log.Fatalf("failed to load current report: %v", err)
	}

	diffs := compare(legacy, current, strict)
	printReport(legacyPath, currentPath, diffs)

	for _, d := range diffs {
		if d.Critical {
			os.Exit(1)
		}
	}
}

// loadReport accepts either a bare report document or a full run object with
// the report nested under "report".
func loadReport(path string) (*models.SyncReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var run struct {
		Report *models.SyncReport `json:"report"`
	}
	if err := json.Unmarshal(data, &run); err == nil && run.Report != nil {
		return run.Report, nil
	}

	report := &models.SyncReport{}
	if err := json.Unmarshal(data, report); err != nil {
		return nil, err
	}
	return report, nil
}

func compare(legacy, current *models.SyncReport, strict bool) []diff {
	var diffs []diff

	count := func(field string, a, b int) {
		if a != b {
			diffs = append(diffs, diff{Field: field, Legacy: fmt.Sprint(a), Current: fmt.Sprint(b), Critical: true})
		}
	}

	if legacy.SchoolYear != current.SchoolYear {
		diffs = append(diffs, diff{Field: "school_year", Legacy: legacy.SchoolYear, Current: current.SchoolYear, Critical: true})
	}

	count("changes.new", legacy.Changes.New, current.Changes.New)
	count("changes.updated", legacy.Changes.Updated, current.Changes.Updated)
	count("changes.unchanged", legacy.Changes.Unchanged, current.Changes.Unchanged)
	count("changes.removed", legacy.Changes.Removed, current.Changes.Removed)
	count("existing_links.processed", legacy.ExistingLinks.Processed, current.ExistingLinks.Processed)
	count("existing_links.updated", legacy.ExistingLinks.Updated, current.ExistingLinks.Updated)
	count("new_links.processed", legacy.NewLinks.Processed, current.NewLinks.Processed)
	count("new_links.created", legacy.NewLinks.Created, current.NewLinks.Created)
	count("missing_records.total", legacy.MissingRecords.Total, current.MissingRecords.Total)
	count("status_mismatches.total", legacy.StatusMismatches.Total, current.StatusMismatches.Total)
	count("missing_emails.total", legacy.MissingEmails.Total, current.MissingEmails.Total)

	if d := setDiff("missing_emails.asns", legacy.MissingEmails.ASNs, current.MissingEmails.ASNs); d != nil {
		d.Critical = strict
		diffs = append(diffs, *d)
	}

	legacyMissing := make([]string, 0, len(legacy.MissingRecords.Details))
	for _, detail := range legacy.MissingRecords.Details {
		legacyMissing = append(legacyMissing, string(detail.RecordID))
	}
	currentMissing := make([]string, 0, len(current.MissingRecords.Details))
	for _, detail := range current.MissingRecords.Details {
		currentMissing = append(currentMissing, string(detail.RecordID))
	}
	if d := setDiff("missing_records.details", legacyMissing, currentMissing); d != nil {
		d.Critical = strict
		diffs = append(diffs, *d)
	}

	return diffs
}

// setDiff compares two string slices as sets, returning nil when equal.
func setDiff(field string, a, b []string) *diff {
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)

	if len(as) == len(bs) {
		equal := true
		for i := range as {
			if as[i] != bs[i] {
				equal = false
				break
			}
		}
		if equal {
			return nil
		}
	}

	return &diff{
		Field:   field,
		Legacy:  fmt.Sprintf("%d entries: %v", len(as), as),
		Current: fmt.Sprintf("%d entries: %v", len(bs), bs),
	}
}

func printReport(legacyPath, currentPath string, diffs []diff) {
	fmt.Println("Sync Report Comparison")
	fmt.Println("======================")
	fmt.Printf("Legacy:  %s\n", legacyPath)
	fmt.Printf("Current: %s\n", currentPath)

	if len(diffs) == 0 {
		fmt.Println("Reports match.")
		return
	}

	breaking := 0
	for _, d := range diffs {
		kind := "optional"
		if d.Critical {
			kind = "BREAKING"
			breaking++
		}
		fmt.Printf("[%s] %s\n", kind, d.Field)
		fmt.Printf("  legacy:  %s\n", d.Legacy)
		fmt.Printf("  current: %s\n", d.Current)
	}
	fmt.Printf("Breaking diffs: %d, Optional diffs: %d\n", breaking, len(diffs)-breaking)
}
