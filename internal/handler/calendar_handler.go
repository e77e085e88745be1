package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uniexam/booking-api/internal/service"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
	"github.com/uniexam/booking-api/pkg/response"
)

// CalendarHandler serves slot availability queries.
type CalendarHandler struct {
	calendar *service.CalendarService
	metrics  *service.MetricsService
}

// NewCalendarHandler creates a new handler.
func NewCalendarHandler(calendar *service.CalendarService, metrics *service.MetricsService) *CalendarHandler {
	return &CalendarHandler{calendar: calendar, metrics: metrics}
}

// GetSlots godoc
// @Summary List available slots
// @Description Returns the bookable and conflicting slots of a room for the week containing the requested day
// @Tags Calendar
// @Produce json
// @Param id path string true "Room ID"
// @Param exam query string true "Exam ID"
// @Param day query string true "Search day (YYYY-MM-DD)"
// @Param accessibility query []string false "Required accessibility tags"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /rooms/{id}/slots [get]
func (h *CalendarHandler) GetSlots(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	examID := c.Query("exam")
	day := c.Query("day")
	if examID == "" || day == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "exam and day query parameters are required"))
		return
	}
	accessibility := c.QueryArray("accessibility")

	slots, err := h.calendar.GetSlots(c.Request.Context(), claims.UserID, examID, c.Param("id"), day, accessibility)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.RecordSlotSearch()
	response.JSON(c, http.StatusOK, slots, nil)
}
