package dto

import "github.com/pirouette-labs/studio-ledger-api/internal/models"

// DeclareHolidayRequest captures POST /holidays.
type DeclareHolidayRequest struct {
	Date      string `json:"date" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Confirmed bool   `json:"confirmed"`
}

// HolidayImpactRequest captures POST /holidays/impact.
type HolidayImpactRequest struct {
	Date string `json:"date" validate:"required"`
	Name string `json:"name"`
}

// ConsumeCreditsRequest captures POST /students/{id}/credits/consume.
type ConsumeCreditsRequest struct {
	Amount int `json:"amount" validate:"required,gt=0"`
}

// ReportRequest captures POST /reports/generate payload.
type ReportRequest struct {
	Type      models.ReportType   `json:"type" validate:"required"`
	Date      string              `json:"date,omitempty"`
	StudentID string              `json:"studentId,omitempty"`
	Format    models.ReportFormat `json:"format" validate:"required"`
}

// ReportJobResponse is returned after enqueueing a report.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse exposes job progress metadata.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL string              `json:"resultUrl,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// BalanceResponse reports a student balance.
type BalanceResponse struct {
	StudentID string `json:"studentId"`
	Balance   int    `json:"balance"`
}
