package handler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtdacademy/pasi-sync-api/internal/middleware"
	"github.com/rtdacademy/pasi-sync-api/internal/models"
	"github.com/rtdacademy/pasi-sync-api/internal/service"
	appErrors "github.com/rtdacademy/pasi-sync-api/pkg/errors"
)

type syncRunnerMock struct {
	lastRequest *service.SyncRequest
	run         *models.SyncRun
	runErr      error
	runs        []models.SyncRun
	total       int
	listErr     error
}

func (m *syncRunnerMock) Run(ctx context.Context, req service.SyncRequest) (*models.SyncRun, error) {
	m.lastRequest = &req
	return m.run, m.runErr
}

func (m *syncRunnerMock) RunAsync(ctx context.Context, req service.SyncRequest) (*models.SyncRun, error) {
	m.lastRequest = &req
	return m.run, m.runErr
}

func (m *syncRunnerMock) FindRun(ctx context.Context, id string) (*models.SyncRun, error) {
	if m.run == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "sync run not found")
	}
	return m.run, nil
}

func (m *syncRunnerMock) ListRuns(ctx context.Context, year *models.SchoolYear, page, pageSize int) ([]models.SyncRun, int, error) {
	return m.runs, m.total, m.listErr
}

type reportExporterMock struct {
	result   *service.ExportResult
	genErr   error
	relPath  string
	parseErr error
	file     *os.File
}

func (m *reportExporterMock) Generate(run *models.SyncRun, format models.ReportFormat) (*service.ExportResult, error) {
	return m.result, m.genErr
}

func (m *reportExporterMock) ParseToken(token string, allowExpired bool) (string, string, time.Time, error) {
	if m.parseErr != nil {
		return "", "", time.Time{}, m.parseErr
	}
	return "run-1", m.relPath, time.Now().Add(time.Hour), nil
}

func (m *reportExporterMock) Open(relPath string) (*os.File, error) {
	if m.file == nil {
		return nil, os.ErrNotExist
	}
	return m.file, nil
}

func rosterFormRequest(t *testing.T, schoolYear string, withFile bool) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if schoolYear != "" {
		require.NoError(t, writer.WriteField("school_year", schoolYear))
	}
	if withFile {
		part, err := writer.CreateFormFile("file", "roster.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte("asn,code\n"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req, _ := http.NewRequest(http.MethodPost, "/pasi/sync", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func completedRun() *models.SyncRun {
	year, _ := models.ParseSchoolYear("23/24")
	now := time.Now()
	return &models.SyncRun{
		ID:          "run-1",
		SchoolYear:  year,
		Status:      models.SyncRunCompleted,
		StartedAt:   now,
		CompletedAt: &now,
		Report:      &models.SyncReport{SchoolYear: "23/24"},
	}
}

func TestSyncHandlerRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &syncRunnerMock{run: completedRun()}
	handler := NewSyncHandler(mockSvc, &reportExporterMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = rosterFormRequest(t, "23/24", true)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Email: "admin@example.com", Role: models.RoleAdmin})

	handler.Run(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.lastRequest)
	assert.Equal(t, "23/24", mockSvc.lastRequest.Year.Slash())
	assert.Equal(t, "roster.csv", mockSvc.lastRequest.Filename)
	assert.Equal(t, "admin@example.com", mockSvc.lastRequest.InitiatedBy)
}

func TestSyncHandlerRunRejectsBadSchoolYear(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &syncRunnerMock{}
	handler := NewSyncHandler(mockSvc, &reportExporterMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = rosterFormRequest(t, "not-a-year", true)

	handler.Run(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, mockSvc.lastRequest)
}

func TestSyncHandlerRunRequiresFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSyncHandler(&syncRunnerMock{}, &reportExporterMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = rosterFormRequest(t, "23/24", false)

	handler.Run(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncHandlerRunConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &syncRunnerMock{runErr: appErrors.ErrSyncInProgress}
	handler := NewSyncHandler(mockSvc, &reportExporterMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = rosterFormRequest(t, "23/24", true)

	handler.Run(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestSyncHandlerRunAsyncAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	run := completedRun()
	run.Status = models.SyncRunRunning
	run.CompletedAt = nil
	mockSvc := &syncRunnerMock{run: run}
	handler := NewSyncHandler(mockSvc, &reportExporterMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = rosterFormRequest(t, "23_24", true)

	handler.RunAsync(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "run-1")
}

func TestSyncHandlerListRuns(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &syncRunnerMock{runs: []models.SyncRun{*completedRun()}, total: 1}
	handler := NewSyncHandler(mockSvc, &reportExporterMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/pasi/sync/runs?school_year=23/24&page=2&page_size=5", nil)

	handler.ListRuns(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"page":2`)
	assert.Contains(t, w.Body.String(), `"total_count":1`)
}

func TestSyncHandlerGetRunNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSyncHandler(&syncRunnerMock{}, &reportExporterMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/pasi/sync/runs/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.GetRun(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncHandlerExportRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &syncRunnerMock{run: completedRun()}
	exporter := &reportExporterMock{result: &service.ExportResult{
		Token:  "signed-token",
		URL:    "/api/v1/pasi/exports/signed-token",
		Format: models.ReportFormatCSV,
	}}
	handler := NewSyncHandler(mockSvc, exporter)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/pasi/sync/runs/run-1/export?format=csv", nil)
	c.Params = gin.Params{{Key: "id", Value: "run-1"}}

	handler.ExportRun(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "signed-token")
}

func TestSyncHandlerExportRunRejectsUnknownFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSyncHandler(&syncRunnerMock{run: completedRun()}, &reportExporterMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/pasi/sync/runs/run-1/export?format=xlsx", nil)
	c.Params = gin.Params{{Key: "id", Value: "run-1"}}

	handler.ExportRun(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncHandlerDownloadExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp(t.TempDir(), "export*.csv")
	require.NoError(t, err)
	_, err = file.WriteString("Section,Field,Value\n")
	require.NoError(t, err)
	_, err = file.Seek(0, 0)
	require.NoError(t, err)

	exporter := &reportExporterMock{relPath: "export.csv", file: file}
	handler := NewSyncHandler(&syncRunnerMock{}, exporter)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/pasi/exports/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.DownloadExport(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), "Section,Field,Value")
}

func TestSyncHandlerDownloadExportInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exporter := &reportExporterMock{parseErr: os.ErrInvalid}
	handler := NewSyncHandler(&syncRunnerMock{}, exporter)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/pasi/exports/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}

	handler.DownloadExport(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
