package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pirouette-labs/studio-ledger-api/internal/dto"
	"github.com/pirouette-labs/studio-ledger-api/internal/middleware"
	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/internal/service"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
	"github.com/pirouette-labs/studio-ledger-api/pkg/response"
)

type reportService interface {
	CreateJob(ctx context.Context, reportType models.ReportType, params models.ReportJobParams, actorID string) (*models.ReportJob, error)
	GetStatus(ctx context.Context, id string) (*models.ReportJob, error)
	ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error)
}

// ReportHandler exposes asynchronous export endpoints.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// GenerateReport godoc
// @Summary Queue an export job
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body dto.ReportRequest true "Report payload"
// @Success 202 {object} response.Envelope
// @Router /reports/generate [post]
func (h *ReportHandler) GenerateReport(c *gin.Context) {
	var req dto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actorID := ""
	if claims := middleware.ClaimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	params := models.ReportJobParams{Date: req.Date, StudentID: req.StudentID, Format: req.Format}
	job, err := h.reports.CreateJob(c.Request.Context(), req.Type, params, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, dto.ReportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil)
}

// ReportStatus godoc
// @Summary Export job status
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /reports/status/{id} [get]
func (h *ReportHandler) ReportStatus(c *gin.Context) {
	job, err := h.reports.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	resp := dto.ReportStatusResponse{
		ID:        job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		ResultURL: job.ResultURL,
		Error:     job.ErrorMessage,
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// DownloadReport godoc
// @Summary Download a finished export via signed token
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Download token"
// @Success 200
// @Router /exports/{token} [get]
func (h *ReportHandler) DownloadReport(c *gin.Context) {
	download, err := h.reports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}
	mimeType := "text/csv"
	if download.Format == models.ReportFormatPDF {
		mimeType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+download.Filename+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), mimeType, download.File, nil)
}
