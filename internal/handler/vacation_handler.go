package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/pkg/response"
)

type vacationService interface {
	RequestVacation(ctx context.Context, claims *models.JWTClaims, teacherID string, req dto.RequestVacationRequest) (*models.VacationPeriod, error)
	DeleteVacation(ctx context.Context, claims *models.JWTClaims, vacationID string) (*models.VacationRemoval, error)
}

// VacationHandler exposes teacher vacation endpoints.
type VacationHandler struct {
	service vacationService
}

// NewVacationHandler constructs the vacation handler.
func NewVacationHandler(service vacationService) *VacationHandler {
	return &VacationHandler{service: service}
}

// Request godoc
// @Summary Request a vacation
// @Tags Vacations
// @Accept json
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param payload body dto.RequestVacationRequest true "Vacation payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /teachers/{teacherId}/vacations [post]
func (h *VacationHandler) Request(c *gin.Context) {
	var req dto.RequestVacationRequest
	if !bindJSON(c, &req, "invalid vacation payload") {
		return
	}
	period, err := h.service.RequestVacation(c.Request.Context(), claimsFromContext(c), c.Param("teacherId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, period, map[string]interface{}{"affectedClasses": len(period.AffectedClassIDs)})
}

// Delete godoc
// @Summary Delete a vacation and restore its classes
// @Tags Vacations
// @Produce json
// @Param id path string true "Vacation ID"
// @Success 200 {object} response.Envelope
// @Router /vacations/{id} [delete]
func (h *VacationHandler) Delete(c *gin.Context) {
	result, err := h.service.DeleteVacation(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
