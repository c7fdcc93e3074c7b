package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
	"github.com/rtdacademy/pasi-sync-api/internal/service"
	appErrors "github.com/rtdacademy/pasi-sync-api/pkg/errors"
	"github.com/rtdacademy/pasi-sync-api/pkg/response"
)

// maxRosterUploadBytes bounds the accepted CSV size (25 MiB covers the
// largest historical roster several times over).
const maxRosterUploadBytes = 25 << 20

type syncRunner interface {
	Run(ctx context.Context, req service.SyncRequest) (*models.SyncRun, error)
	RunAsync(ctx context.Context, req service.SyncRequest) (*models.SyncRun, error)
	FindRun(ctx context.Context, id string) (*models.SyncRun, error)
	ListRuns(ctx context.Context, year *models.SchoolYear, page, pageSize int) ([]models.SyncRun, int, error)
}

type reportExporter interface {
	Generate(run *models.SyncRun, format models.ReportFormat) (*service.ExportResult, error)
	ParseToken(token string, allowExpired bool) (runID, relPath string, expiresAt time.Time, err error)
	Open(relPath string) (*os.File, error)
}

// SyncHandler exposes the PASI reconciliation endpoints.
type SyncHandler struct {
	sync    syncRunner
	exports reportExporter
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(syncSvc syncRunner, exportSvc reportExporter) *SyncHandler {
	return &SyncHandler{sync: syncSvc, exports: exportSvc}
}

// Run godoc
// @Summary Run a roster reconciliation synchronously
// @Description Upload a PASI roster CSV and reconcile it against the stored partition for the given school year. Blocks until the run completes.
// @Tags Sync
// @Accept multipart/form-data
// @Produce json
// @Param school_year formData string true "School year, e.g. 23/24 or 23_24"
// @Param file formData file true "Roster CSV"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /pasi/sync [post]
func (h *SyncHandler) Run(c *gin.Context) {
	req, err := h.bindSyncRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	run, err := h.sync.Run(c.Request.Context(), *req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// RunAsync godoc
// @Summary Queue a roster reconciliation
// @Description Validates and parses the uploaded roster, then queues the run for background execution. Returns the run id for polling.
// @Tags Sync
// @Accept multipart/form-data
// @Produce json
// @Param school_year formData string true "School year, e.g. 23/24 or 23_24"
// @Param file formData file true "Roster CSV"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /pasi/sync/async [post]
func (h *SyncHandler) RunAsync(c *gin.Context) {
	req, err := h.bindSyncRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	run, err := h.sync.RunAsync(c.Request.Context(), *req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, run, nil)
}

// ListRuns godoc
// @Summary List reconciliation runs
// @Tags Sync
// @Produce json
// @Param school_year query string false "Filter by school year"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /pasi/sync/runs [get]
func (h *SyncHandler) ListRuns(c *gin.Context) {
	var year *models.SchoolYear
	if raw := strings.TrimSpace(c.Query("school_year")); raw != "" {
		parsed, err := models.ParseSchoolYear(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid school_year"))
			return
		}
		year = &parsed
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	runs, total, err := h.sync.ListRuns(c.Request.Context(), year, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}

// GetRun godoc
// @Summary Get a reconciliation run with its report
// @Tags Sync
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /pasi/sync/runs/{id} [get]
func (h *SyncHandler) GetRun(c *gin.Context) {
	run, err := h.sync.FindRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// ExportRun godoc
// @Summary Export a run report as CSV or PDF
// @Description Renders the run's stored report to a file and returns a signed download URL.
// @Tags Sync
// @Produce json
// @Param id path string true "Run ID"
// @Param format query string false "csv or pdf (default csv)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /pasi/sync/runs/{id}/export [get]
func (h *SyncHandler) ExportRun(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}

	format := models.ReportFormat(strings.ToLower(c.DefaultQuery("format", string(models.ReportFormatCSV))))
	if format != models.ReportFormatCSV && format != models.ReportFormatPDF {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
		return
	}

	run, err := h.sync.FindRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if run.Report == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "run has no report yet"))
		return
	}

	result, err := h.exports.Generate(run, format)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate export"))
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DownloadExport godoc
// @Summary Download a generated export via signed token
// @Tags Sync
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /pasi/exports/{token} [get]
func (h *SyncHandler) DownloadExport(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}

	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	_, relPath, _, err := h.exports.ParseToken(token, false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token"))
		return
	}

	file, err := h.exports.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export file not found"))
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}

	contentType := "text/csv"
	if strings.HasSuffix(relPath, ".pdf") {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}

// bindSyncRequest extracts the school year and roster file from a multipart form.
func (h *SyncHandler) bindSyncRequest(c *gin.Context) (*service.SyncRequest, error) {
	rawYear := strings.TrimSpace(c.PostForm("school_year"))
	if rawYear == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "school_year is required")
	}
	year, err := models.ParseSchoolYear(rawYear)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid school_year, expected YY/YY or YY_YY")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if fileHeader.Size > maxRosterUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "roster file too large")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open upload")
	}
	defer src.Close() //nolint:errcheck

	payload, err := io.ReadAll(io.LimitReader(src, maxRosterUploadBytes+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	if len(payload) > maxRosterUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "roster file too large")
	}

	initiatedBy := ""
	if claims := claimsFromContext(c); claims != nil {
		initiatedBy = claims.Email
	}

	return &service.SyncRequest{
		Year:        year,
		CSV:         payload,
		Filename:    fileHeader.Filename,
		InitiatedBy: initiatedBy,
	}, nil
}
