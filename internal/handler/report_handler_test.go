package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/pirouette-labs/studio-ledger-api/internal/dto"
	"github.com/pirouette-labs/studio-ledger-api/internal/middleware"
	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/internal/service"
)

type reportServiceMock struct {
	job         *models.ReportJob
	jobErr      error
	status      *models.ReportJob
	statusErr   error
	download    *service.ReportDownload
	downloadErr error
}

func (m *reportServiceMock) CreateJob(ctx context.Context, reportType models.ReportType, params models.ReportJobParams, actorID string) (*models.ReportJob, error) {
	return m.job, m.jobErr
}

func (m *reportServiceMock) GetStatus(ctx context.Context, id string) (*models.ReportJob, error) {
	return m.status, m.statusErr
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestReportHandlerGenerateReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		job: &models.ReportJob{ID: "job-1", Status: models.ReportStatusQueued},
	}
	handler := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(dto.ReportRequest{Type: models.ReportTypeDaySummary, Date: "2026-01-20", Format: models.ReportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/reports/generate", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: "admin"})

	handler.GenerateReport(c)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestReportHandlerReportStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		status: &models.ReportJob{ID: "job-1", Status: models.ReportStatusFinished, Progress: 100, ResultURL: "/api/v1/exports/tok"},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/status/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: "admin"})

	handler.ReportStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReportHandlerDownloadReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp("", "report*.csv")
	require.NoError(t, err)
	defer os.Remove(file.Name())
	_, _ = file.WriteString("data")
	_, _ = file.Seek(0, 0)

	mockSvc := &reportServiceMock{
		download: &service.ReportDownload{
			File:      file,
			Filename:  "day-summary-2026-01-20.csv",
			Format:    models.ReportFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/exports/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.DownloadReport(c)
	require.Equal(t, http.StatusOK, w.Code)
}
