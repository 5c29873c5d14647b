package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/pkg/response"
)

type classBooker interface {
	BookClass(ctx context.Context, claims *models.JWTClaims, req dto.BookClassRequest) (*models.BookedClass, error)
	CreateClassWithCredit(ctx context.Context, claims *models.JWTClaims, req dto.CreateClassWithCreditRequest) (*models.BookedClass, error)
}

type classLifecycle interface {
	Reschedule(ctx context.Context, claims *models.JWTClaims, classID string, req dto.RescheduleClassRequest) (*models.BookedClass, error)
	CancelByStudent(ctx context.Context, claims *models.JWTClaims, classID string, req dto.CancelClassRequest) (*dto.CancelClassResponse, error)
	CancelByTeacher(ctx context.Context, claims *models.JWTClaims, classID string, req dto.CancelClassRequest) (*dto.CancelClassResponse, error)
	ConvertToSlot(ctx context.Context, claims *models.JWTClaims, classID string) (*dto.ConvertToSlotResponse, error)
	Complete(ctx context.Context, claims *models.JWTClaims, classID string, req dto.CompleteClassRequest) (*models.BookedClass, error)
	MarkNoShow(ctx context.Context, claims *models.JWTClaims, classID string) (*models.BookedClass, error)
	MarkOverdue(ctx context.Context, now time.Time) (*dto.OverdueSweepResult, error)
}

// ClassHandler exposes booking and class lifecycle endpoints.
type ClassHandler struct {
	booking   classBooker
	lifecycle classLifecycle
}

// NewClassHandler constructs the class handler.
func NewClassHandler(booking classBooker, lifecycle classLifecycle) *ClassHandler {
	return &ClassHandler{booking: booking, lifecycle: lifecycle}
}

// Book godoc
// @Summary Book a class
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body dto.BookClassRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 402 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Book(c *gin.Context) {
	var req dto.BookClassRequest
	if !bindJSON(c, &req, "invalid booking payload") {
		return
	}
	class, err := h.booking.BookClass(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// CreateWithCredit godoc
// @Summary Create a class funded by a credit (staff)
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body dto.CreateClassWithCreditRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Router /classes/with-credit [post]
func (h *ClassHandler) CreateWithCredit(c *gin.Context) {
	var req dto.CreateClassWithCreditRequest
	if !bindJSON(c, &req, "invalid booking payload") {
		return
	}
	class, err := h.booking.CreateClassWithCredit(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// Reschedule godoc
// @Summary Reschedule a class
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body dto.RescheduleClassRequest true "Reschedule payload"
// @Success 201 {object} response.Envelope
// @Router /classes/{id}/reschedule [post]
func (h *ClassHandler) Reschedule(c *gin.Context) {
	var req dto.RescheduleClassRequest
	if !bindJSON(c, &req, "invalid reschedule payload") {
		return
	}
	class, err := h.lifecycle.Reschedule(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, class, map[string]interface{}{"rescheduledFrom": c.Param("id")})
}

// CancelByStudent godoc
// @Summary Cancel own class (student)
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body dto.CancelClassRequest false "Cancellation payload"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/cancel [post]
func (h *ClassHandler) CancelByStudent(c *gin.Context) {
	req, ok := bindCancel(c)
	if !ok {
		return
	}
	result, err := h.lifecycle.CancelByStudent(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// CancelByTeacher godoc
// @Summary Cancel a class (teacher)
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body dto.CancelClassRequest false "Cancellation payload"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/teacher-cancel [post]
func (h *ClassHandler) CancelByTeacher(c *gin.Context) {
	req, ok := bindCancel(c)
	if !ok {
		return
	}
	result, err := h.lifecycle.CancelByTeacher(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// ConvertToSlot godoc
// @Summary Re-offer the time of a canceled class
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/convert-to-slot [post]
func (h *ClassHandler) ConvertToSlot(c *gin.Context) {
	result, err := h.lifecycle.ConvertToSlot(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Complete godoc
// @Summary Mark a class completed
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body dto.CompleteClassRequest false "Completion payload"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/complete [post]
func (h *ClassHandler) Complete(c *gin.Context) {
	var req dto.CompleteClassRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req, "invalid completion payload") {
			return
		}
	}
	class, err := h.lifecycle.Complete(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class)
}

// NoShow godoc
// @Summary Mark a class as student no-show
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/no-show [post]
func (h *ClassHandler) NoShow(c *gin.Context) {
	class, err := h.lifecycle.MarkNoShow(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class)
}

// SweepOverdue godoc
// @Summary Run the overdue sweep now (staff)
// @Tags Classes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /classes/overdue-sweep [post]
func (h *ClassHandler) SweepOverdue(c *gin.Context) {
	result, err := h.lifecycle.MarkOverdue(c.Request.Context(), time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

func bindCancel(c *gin.Context) (dto.CancelClassRequest, bool) {
	var req dto.CancelClassRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	return req, bindJSON(c, &req, "invalid cancellation payload")
}
