package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/internal/service"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
	"github.com/noah-isme/tutor-scheduling-api/pkg/response"
)

type availabilityResolver interface {
	Resolve(ctx context.Context, claims *models.JWTClaims, query dto.AvailabilityQuery) (*models.AvailabilityResult, error)
}

type calendarExporter interface {
	ExportCalendar(ctx context.Context, claims *models.JWTClaims, query dto.AvailabilityExportQuery) (*service.ExportResult, error)
}

type availabilityRuleManager interface {
	CreateRule(ctx context.Context, claims *models.JWTClaims, teacherID string, req dto.CreateAvailabilityRuleRequest) (*models.AvailabilityRule, error)
	DeleteRule(ctx context.Context, claims *models.JWTClaims, ruleID string) error
	AddException(ctx context.Context, claims *models.JWTClaims, ruleID string, req dto.AvailabilityExceptionRequest) (*models.AvailabilityException, error)
	RemoveException(ctx context.Context, claims *models.JWTClaims, ruleID, date string) error
}

// AvailabilityHandler exposes teacher availability, its export and rule management.
type AvailabilityHandler struct {
	resolver availabilityResolver
	exporter calendarExporter
	rules    availabilityRuleManager
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(resolver availabilityResolver, exporter calendarExporter, rules availabilityRuleManager) *AvailabilityHandler {
	return &AvailabilityHandler{resolver: resolver, exporter: exporter, rules: rules}
}

// Resolve godoc
// @Summary Resolve teacher availability
// @Description Returns vacant and reserved slots of a teacher over a closed date window. Teachers and staff may request excepted slots.
// @Tags Availability
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param from query string true "Window start (YYYY-MM-DD)"
// @Param to query string true "Window end (YYYY-MM-DD)"
// @Param include_excepted query bool false "Include excepted slots"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /teachers/{teacherId}/availability [get]
func (h *AvailabilityHandler) Resolve(c *gin.Context) {
	query, ok := availabilityQuery(c)
	if !ok {
		return
	}
	result, err := h.resolver.Resolve(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, map[string]interface{}{
		"vacant":   len(result.Vacant),
		"reserved": len(result.Reserved),
	})
}

// Export godoc
// @Summary Export teacher availability
// @Tags Availability
// @Produce text/csv
// @Produce application/pdf
// @Param teacherId path string true "Teacher ID"
// @Param from query string true "Window start (YYYY-MM-DD)"
// @Param to query string true "Window end (YYYY-MM-DD)"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /teachers/{teacherId}/availability/export [get]
func (h *AvailabilityHandler) Export(c *gin.Context) {
	query, ok := availabilityQuery(c)
	if !ok {
		return
	}
	result, err := h.exporter.ExportCalendar(c.Request.Context(), claimsFromContext(c), dto.AvailabilityExportQuery{
		AvailabilityQuery: query,
		Format:            strings.ToLower(strings.TrimSpace(c.Query("format"))),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Payload)
}

// CreateRule godoc
// @Summary Create availability rule
// @Tags Availability
// @Accept json
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param payload body dto.CreateAvailabilityRuleRequest true "Rule payload"
// @Success 201 {object} response.Envelope
// @Router /teachers/{teacherId}/availability/rules [post]
func (h *AvailabilityHandler) CreateRule(c *gin.Context) {
	var req dto.CreateAvailabilityRuleRequest
	if !bindJSON(c, &req, "invalid availability rule payload") {
		return
	}
	rule, err := h.rules.CreateRule(c.Request.Context(), claimsFromContext(c), c.Param("teacherId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// DeleteRule godoc
// @Summary Delete availability rule
// @Tags Availability
// @Param ruleId path string true "Rule ID"
// @Success 204
// @Router /availability/rules/{ruleId} [delete]
func (h *AvailabilityHandler) DeleteRule(c *gin.Context) {
	if err := h.rules.DeleteRule(c.Request.Context(), claimsFromContext(c), c.Param("ruleId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddException godoc
// @Summary Cancel one occurrence of a rule
// @Tags Availability
// @Accept json
// @Produce json
// @Param ruleId path string true "Rule ID"
// @Param payload body dto.AvailabilityExceptionRequest true "Exception payload"
// @Success 201 {object} response.Envelope
// @Router /availability/rules/{ruleId}/exceptions [post]
func (h *AvailabilityHandler) AddException(c *gin.Context) {
	var req dto.AvailabilityExceptionRequest
	if !bindJSON(c, &req, "invalid exception payload") {
		return
	}
	exception, err := h.rules.AddException(c.Request.Context(), claimsFromContext(c), c.Param("ruleId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, exception)
}

// RemoveException godoc
// @Summary Restore one occurrence of a rule
// @Tags Availability
// @Param ruleId path string true "Rule ID"
// @Param date path string true "Occurrence date (YYYY-MM-DD)"
// @Success 204
// @Router /availability/rules/{ruleId}/exceptions/{date} [delete]
func (h *AvailabilityHandler) RemoveException(c *gin.Context) {
	if err := h.rules.RemoveException(c.Request.Context(), claimsFromContext(c), c.Param("ruleId"), c.Param("date")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func availabilityQuery(c *gin.Context) (dto.AvailabilityQuery, bool) {
	query := dto.AvailabilityQuery{
		TeacherID: strings.TrimSpace(c.Param("teacherId")),
		From:      strings.TrimSpace(c.Query("from")),
		To:        strings.TrimSpace(c.Query("to")),
	}
	if query.From == "" || query.To == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidDate, "from and to are required"))
		return query, false
	}
	if raw := c.Query("include_excepted"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "include_excepted must be a boolean"))
			return query, false
		}
		query.IncludeExcepted = include
	}
	return query, true
}
