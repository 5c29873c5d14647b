package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/pkg/response"
)

type creditService interface {
	Summary(ctx context.Context, claims *models.JWTClaims, studentID string) (*models.CreditSummary, error)
	GrantRegular(ctx context.Context, claims *models.JWTClaims, studentID string, req dto.GrantRegularCreditRequest) (*models.RegularClassCredit, error)
	AddClassCredits(ctx context.Context, claims *models.JWTClaims, studentID string, req dto.AddClassCreditsRequest) (*models.StudentCreditBalance, error)
}

// CreditHandler exposes student credit balances and grants.
type CreditHandler struct {
	service creditService
}

// NewCreditHandler constructs the credit handler.
func NewCreditHandler(service creditService) *CreditHandler {
	return &CreditHandler{service: service}
}

// Summary godoc
// @Summary Get student credits
// @Tags Credits
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/credits [get]
func (h *CreditHandler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), claimsFromContext(c), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}

// GrantRegular godoc
// @Summary Grant a typed credit
// @Tags Credits
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body dto.GrantRegularCreditRequest true "Credit payload"
// @Success 201 {object} response.Envelope
// @Router /students/{studentId}/credits/regular [post]
func (h *CreditHandler) GrantRegular(c *gin.Context) {
	var req dto.GrantRegularCreditRequest
	if !bindJSON(c, &req, "invalid credit payload") {
		return
	}
	credit, err := h.service.GrantRegular(c.Request.Context(), claimsFromContext(c), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, credit)
}

// AddClassCredits godoc
// @Summary Add class credits after payment
// @Tags Credits
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body dto.AddClassCreditsRequest true "Credit payload"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/credits/class [post]
func (h *CreditHandler) AddClassCredits(c *gin.Context) {
	var req dto.AddClassCreditsRequest
	if !bindJSON(c, &req, "invalid credit payload") {
		return
	}
	balance, err := h.service.AddClassCredits(c.Request.Context(), claimsFromContext(c), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, balance)
}
