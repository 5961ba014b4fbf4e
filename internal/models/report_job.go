package models

import "time"

// ReportType enumerates supported asynchronous report categories.
type ReportType string

const (
	ReportTypeDaySummary     ReportType = "daySummary"
	ReportTypeReconciliation ReportType = "reconciliation"
	ReportTypeStatement      ReportType = "statement"
)

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportStatus captures background job lifecycle states.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusFinished   ReportStatus = "FINISHED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// ReportJobParams stores request-scoped options on the job document.
// Date drives daySummary and reconciliation reports, StudentID drives
// statements.
type ReportJobParams struct {
	Date      string       `json:"date,omitempty"`
	StudentID string       `json:"student_id,omitempty"`
	Format    ReportFormat `json:"format"`
}

// ReportJob is the persisted background job record.
type ReportJob struct {
	ID           string          `json:"id"`
	Type         ReportType      `json:"type"`
	Params       ReportJobParams `json:"params"`
	Status       ReportStatus    `json:"status"`
	Progress     int             `json:"progress"`
	ResultURL    string          `json:"result_url,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}
