package service

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
	"github.com/rtdacademy/pasi-sync-api/pkg/export"
	"github.com/rtdacademy/pasi-sync-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService renders persisted run reports into downloadable files.
type ExportService struct {
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate renders the run's report and stores the file, returning a signed
// download token.
func (s *ExportService) Generate(run *models.SyncRun, format models.ReportFormat) (*ExportResult, error) {
	if run == nil || run.Report == nil {
		return nil, fmt.Errorf("run has no report to export")
	}
	dataset := buildReportDataset(run.Report)
	title := fmt.Sprintf("PASI Sync Report %s", run.Report.SchoolYear)

	var payload []byte
	var err error
	switch format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", format)
	}
	if err != nil {
		return nil, err
	}

	filename := buildExportFilename(run, format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(run.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/pasi/exports/%s", prefix, token),
		Format:       format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (runID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func buildExportFilename(run *models.SyncRun, format models.ReportFormat) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("sync_report_%s_%s_%s.%s", run.SchoolYear.Underscore(), run.ID, timestamp, format)
}

var reportDatasetHeaders = []string{"Section", "Field", "Value"}

// buildReportDataset flattens the structured report into a single table so
// the same dataset drives both renderers.
func buildReportDataset(report *models.SyncReport) export.Dataset {
	row := func(section, field, value string) map[string]string {
		return map[string]string{"Section": section, "Field": field, "Value": value}
	}
	rows := []map[string]string{
		row("Run", "School Year", report.SchoolYear),
		row("Run", "Initiated By", report.InitiatedBy),
		row("Run", "Timestamp", report.Timestamp.UTC().Format(time.RFC3339)),
		row("Changes", "New", fmt.Sprintf("%d", report.Changes.New)),
		row("Changes", "Updated", fmt.Sprintf("%d", report.Changes.Updated)),
		row("Changes", "Unchanged", fmt.Sprintf("%d", report.Changes.Unchanged)),
		row("Changes", "Removed", fmt.Sprintf("%d", report.Changes.Removed)),
		row("Existing Links", "Processed", fmt.Sprintf("%d", report.ExistingLinks.Processed)),
		row("Existing Links", "Updated", fmt.Sprintf("%d", report.ExistingLinks.Updated)),
		row("New Links", "Processed", fmt.Sprintf("%d", report.NewLinks.Processed)),
		row("New Links", "Created", fmt.Sprintf("%d", report.NewLinks.Created)),
	}

	for _, failure := range report.ExistingLinks.Failed {
		rows = append(rows, row("Existing Links", "Failed: "+string(failure.RecordID), failure.Reason))
	}
	for _, failure := range report.NewLinks.Failed {
		rows = append(rows, row("New Links", "Failed: "+string(failure.RecordID), failure.Reason))
	}
	for _, issue := range report.NewLinks.NeedsManualCourseMapping {
		rows = append(rows, row("Course Mapping", issue.CourseCode,
			fmt.Sprintf("record %s (ASN %s)", issue.RecordID, issue.ASN)))
	}

	rows = append(rows, row("Missing Records", "Total", fmt.Sprintf("%d", report.MissingRecords.Total)))
	for _, detail := range report.MissingRecords.Details {
		rows = append(rows, row("Missing Records", string(detail.RecordID),
			fmt.Sprintf("%s %s (ASN %s)", detail.StudentName, detail.CourseCode, detail.ASN)))
	}

	rows = append(rows, row("Status Mismatches", "Total", fmt.Sprintf("%d", report.StatusMismatches.Total)))
	for _, detail := range report.StatusMismatches.Details {
		rows = append(rows, row("Status Mismatches", string(detail.RecordID),
			fmt.Sprintf("PASI %q vs summary %q", detail.PasiStatus, detail.SummaryStatus)))
	}

	rows = append(rows, row("Missing Emails", "Total", fmt.Sprintf("%d", report.MissingEmails.Total)))
	for _, asn := range report.MissingEmails.ASNs {
		rows = append(rows, row("Missing Emails", "ASN", asn))
	}

	return export.Dataset{Headers: reportDatasetHeaders, Rows: rows}
}
