package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/pirouette-labs/studio-ledger-api/internal/dto"
	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	"github.com/pirouette-labs/studio-ledger-api/internal/service"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
	"github.com/pirouette-labs/studio-ledger-api/pkg/response"
)

// AttendanceHandler exposes the day sheet endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
	validator  *validator.Validate
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService, v *validator.Validate) *AttendanceHandler {
	if v == nil {
		v = validator.New()
	}
	return &AttendanceHandler{attendance: attendance, validator: v}
}

// Summary godoc
// @Summary Daily attendance summary joined with the eligible roster
// @Tags Attendance
// @Produce json
// @Param date path string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/{date} [get]
func (h *AttendanceHandler) Summary(c *gin.Context) {
	rows, err := h.attendance.SummaryFor(c.Request.Context(), c.Param("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Set godoc
// @Summary Set a student's attendance for a date
// @Tags Attendance
// @Accept json
// @Produce json
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param studentId path string true "Student ID"
// @Param payload body dto.SetAttendanceRequest true "Attendance payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/{date}/{studentId} [put]
func (h *AttendanceHandler) Set(c *gin.Context) {
	var req dto.SetAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.attendance.SetAttendance(c.Request.Context(), c.Param("date"), c.Param("studentId"), req.Status, req.Attributes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// SetBulk godoc
// @Summary Apply the same attendance to many students
// @Tags Attendance
// @Accept json
// @Produce json
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param payload body dto.BulkAttendanceRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/{date}/bulk [post]
func (h *AttendanceHandler) SetBulk(c *gin.Context) {
	var req dto.BulkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	report, err := h.attendance.SetAttendanceBulk(c.Request.Context(), c.Param("date"), req.StudentIDs, req.Status, req.Attributes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Remove godoc
// @Summary Remove a student's attendance record, refunding its fee
// @Tags Attendance
// @Produce json
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /attendance/{date}/{studentId} [delete]
func (h *AttendanceHandler) Remove(c *gin.Context) {
	if err := h.attendance.RemoveAttendance(c.Request.Context(), c.Param("date"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Roster godoc
// @Summary List attendance-eligible students
// @Tags Attendance
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *AttendanceHandler) Roster(c *gin.Context) {
	students, err := h.attendance.ListEligibleStudents(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, &models.Pagination{Page: 1, PageSize: len(students), TotalCount: len(students)})
}
