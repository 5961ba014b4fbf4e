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

// StudentHandler exposes balance and credit endpoints.
type StudentHandler struct {
	ledger    *service.BalanceService
	validator *validator.Validate
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(ledger *service.BalanceService, v *validator.Validate) *StudentHandler {
	if v == nil {
		v = validator.New()
	}
	return &StudentHandler{ledger: ledger, validator: v}
}

// Balance godoc
// @Summary Current balance for a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/balance [get]
func (h *StudentHandler) Balance(c *gin.Context) {
	id := c.Param("id")
	balance, err := h.ledger.GetBalance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.BalanceResponse{StudentID: id, Balance: balance}, nil)
}

// Credits godoc
// @Summary Holiday credit log for a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/credits [get]
func (h *StudentHandler) Credits(c *gin.Context) {
	credits, err := h.ledger.CreditsFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, credits, nil)
}

// ConsumeCredits godoc
// @Summary Mark holiday credit as consumed, oldest first
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.ConsumeCreditsRequest true "Consumption payload"
// @Success 204
// @Router /students/{id}/credits/consume [post]
func (h *StudentHandler) ConsumeCredits(c *gin.Context) {
	var req dto.ConsumeCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.ledger.ConsumeCredits(c.Request.Context(), c.Param("id"), req.Amount); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
