package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/pirouette-labs/studio-ledger-api/internal/dto"
	"github.com/pirouette-labs/studio-ledger-api/internal/service"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
	"github.com/pirouette-labs/studio-ledger-api/pkg/response"
)

// HolidayHandler exposes holiday declaration and impact analysis.
type HolidayHandler struct {
	holidays  *service.HolidayService
	validator *validator.Validate
}

// NewHolidayHandler constructs HolidayHandler.
func NewHolidayHandler(holidays *service.HolidayService, v *validator.Validate) *HolidayHandler {
	if v == nil {
		v = validator.New()
	}
	return &HolidayHandler{holidays: holidays, validator: v}
}

// Declare godoc
// @Summary Declare a holiday and reconcile both ledgers
// @Tags Holidays
// @Accept json
// @Produce json
// @Param payload body dto.DeclareHolidayRequest true "Holiday payload"
// @Success 200 {object} response.Envelope
// @Router /holidays [post]
func (h *HolidayHandler) Declare(c *gin.Context) {
	var req dto.DeclareHolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	report, err := h.holidays.DeclareHoliday(c.Request.Context(), req.Date, req.Name, req.Confirmed)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Impact godoc
// @Summary Preview the effect of declaring a holiday
// @Tags Holidays
// @Accept json
// @Produce json
// @Param payload body dto.HolidayImpactRequest true "Impact payload"
// @Success 200 {object} response.Envelope
// @Router /holidays/impact [post]
func (h *HolidayHandler) Impact(c *gin.Context) {
	var req dto.HolidayImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	impact, err := h.holidays.AnalyzeHolidayImpact(c.Request.Context(), req.Date, req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, impact, nil)
}
