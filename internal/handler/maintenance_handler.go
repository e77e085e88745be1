package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/internal/service"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
	"github.com/uniexam/booking-api/pkg/response"
)

// MaintenanceHandler wires HTTP endpoints to the maintenance service.
type MaintenanceHandler struct {
	service *service.MaintenanceService
}

// NewMaintenanceHandler creates a new handler.
func NewMaintenanceHandler(svc *service.MaintenanceService) *MaintenanceHandler {
	return &MaintenanceHandler{service: svc}
}

// List godoc
// @Summary List upcoming maintenance periods
// @Tags Maintenance
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /maintenance [get]
func (h *MaintenanceHandler) List(c *gin.Context) {
	periods, err := h.service.ListUpcoming(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, periods, nil)
}

// Create godoc
// @Summary Create a maintenance period
// @Description Slots overlapping a maintenance period are not offered
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param payload body models.MaintenancePeriodRequest true "Period payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/maintenance [post]
func (h *MaintenanceHandler) Create(c *gin.Context) {
	var req models.MaintenancePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid maintenance payload"))
		return
	}

	period, err := h.service.CreatePeriod(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, period)
}

// Update godoc
// @Summary Update a maintenance period
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param id path string true "Period ID"
// @Param payload body models.MaintenancePeriodRequest true "Period payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/maintenance/{id} [put]
func (h *MaintenanceHandler) Update(c *gin.Context) {
	var req models.MaintenancePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid maintenance payload"))
		return
	}

	period, err := h.service.UpdatePeriod(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, period, nil)
}

// Delete godoc
// @Summary Delete a maintenance period
// @Tags Maintenance
// @Produce json
// @Param id path string true "Period ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/maintenance/{id} [delete]
func (h *MaintenanceHandler) Delete(c *gin.Context) {
	if err := h.service.DeletePeriod(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
