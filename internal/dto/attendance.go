package dto

import "github.com/pirouette-labs/studio-ledger-api/internal/models"

// SetAttendanceRequest captures PUT /attendance/{date}/{studentId}.
type SetAttendanceRequest struct {
	Status     models.AttendanceStatus `json:"status" validate:"required"`
	Attributes models.AttributeSet     `json:"attributes,omitempty"`
}

// BulkAttendanceRequest captures POST /attendance/{date}/bulk.
type BulkAttendanceRequest struct {
	StudentIDs []string                `json:"studentIds" validate:"required,min=1"`
	Status     models.AttendanceStatus `json:"status" validate:"required"`
	Attributes models.AttributeSet     `json:"attributes,omitempty"`
}
