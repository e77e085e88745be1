package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/internal/service"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
	"github.com/uniexam/booking-api/pkg/response"
)

// EnrolmentHandler wires HTTP endpoints to the enrolment service.
type EnrolmentHandler struct {
	service *service.EnrolmentService
}

// NewEnrolmentHandler creates a new handler.
func NewEnrolmentHandler(svc *service.EnrolmentService) *EnrolmentHandler {
	return &EnrolmentHandler{service: svc}
}

// Enrol godoc
// @Summary Enrol into an exam
// @Description Create an enrolment for the authenticated user
// @Tags Enrolments
// @Accept json
// @Produce json
// @Param payload body object true "Enrolment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrolments [post]
func (h *EnrolmentHandler) Enrol(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		ExamID string `json:"exam_id" binding:"required,uuid4"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrolment payload"))
		return
	}

	enrolment, err := h.service.Enrol(c.Request.Context(), claims.UserID, payload.ExamID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, enrolment)
}

// ListMine godoc
// @Summary List own enrolments
// @Description Returns the authenticated user's enrolments with their reservations
// @Tags Enrolments
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /enrolments [get]
func (h *EnrolmentHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	enrolments, err := h.service.ListUserEnrolments(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrolments, nil)
}

// Get godoc
// @Summary Get one enrolment
// @Description Returns a single enrolment. Students may only read their own
// @Tags Enrolments
// @Produce json
// @Param id path string true "Enrolment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrolments/{id} [get]
func (h *EnrolmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	enrolment, err := h.service.GetEnrolment(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role == models.RoleAdmin)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrolment, nil)
}
