package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/internal/service"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
	"github.com/uniexam/booking-api/pkg/response"
)

// ReservationHandler wires HTTP endpoints to the reservation service.
type ReservationHandler struct {
	service *service.ReservationService
	metrics *service.MetricsService
}

// NewReservationHandler creates a new handler.
func NewReservationHandler(svc *service.ReservationService, metrics *service.MetricsService) *ReservationHandler {
	return &ReservationHandler{service: svc, metrics: metrics}
}

// Create godoc
// @Summary Book a slot
// @Description Reserve a machine for the requested slot, replacing any not-yet-started previous reservation for the same exam
// @Tags Reservations
// @Accept json
// @Produce json
// @Param payload body models.CreateReservationRequest true "Reservation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /reservations [post]
func (h *ReservationHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reservation payload"))
		return
	}

	reservation, err := h.service.CreateReservation(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		h.metrics.RecordReservation(reservationOutcome(err))
		response.Error(c, err)
		return
	}

	h.metrics.RecordReservation("created")
	response.Created(c, reservation)
}

// Cancel godoc
// @Summary Cancel a reservation
// @Description Cancel a future reservation. Admins may cancel any reservation and attach a message for the student
// @Tags Reservations
// @Produce json
// @Param id path string true "Reservation ID"
// @Param message query string false "Message forwarded to the student (admin only)"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reservations/{id} [delete]
func (h *ReservationHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	isAdmin := claims.Role == models.RoleAdmin
	message := ""
	if isAdmin {
		message = c.Query("message")
	}

	if err := h.service.CancelReservation(c.Request.Context(), claims.UserID, c.Param("id"), isAdmin, message); err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.RecordCancellation()
	response.NoContent(c)
}

// Reassign godoc
// @Summary Move a reservation to another machine
// @Description Moves a future reservation onto another in-service machine in the same room
// @Tags Reservations
// @Accept json
// @Produce json
// @Param id path string true "Reservation ID"
// @Param payload body object true "Target machine"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/reservations/{id}/machine [put]
func (h *ReservationHandler) Reassign(c *gin.Context) {
	var payload struct {
		MachineID string `json:"machine_id" binding:"required,uuid4"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reassignment payload"))
		return
	}

	if err := h.service.ReassignMachine(c.Request.Context(), c.Param("id"), payload.MachineID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

func reservationOutcome(err error) string {
	switch {
	case appErrors.Is(err, appErrors.ErrConflict):
		return "conflict"
	case appErrors.Is(err, appErrors.ErrNoMachineAvailable):
		return "no_machine"
	case appErrors.Is(err, appErrors.ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}
