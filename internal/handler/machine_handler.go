package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/internal/service"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
	"github.com/uniexam/booking-api/pkg/response"
)

// MachineHandler wires HTTP endpoints to the machine service.
type MachineHandler struct {
	service *service.MachineService
}

// NewMachineHandler creates a new handler.
func NewMachineHandler(svc *service.MachineService) *MachineHandler {
	return &MachineHandler{service: svc}
}

// ListByRoom godoc
// @Summary List machines of a room
// @Tags Machines
// @Produce json
// @Param id path string true "Room ID"
// @Success 200 {object} response.Envelope
// @Router /admin/rooms/{id}/machines [get]
func (h *MachineHandler) ListByRoom(c *gin.Context) {
	machines, err := h.service.ListMachines(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, machines, nil)
}

// Get godoc
// @Summary Get one machine
// @Tags Machines
// @Produce json
// @Param id path string true "Machine ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/machines/{id} [get]
func (h *MachineHandler) Get(c *gin.Context) {
	machine, err := h.service.GetMachine(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, machine, nil)
}

// Create godoc
// @Summary Create a machine
// @Tags Machines
// @Accept json
// @Produce json
// @Param payload body models.CreateMachineRequest true "Machine payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/machines [post]
func (h *MachineHandler) Create(c *gin.Context) {
	var req models.CreateMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid machine payload"))
		return
	}

	machine, err := h.service.CreateMachine(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, machine)
}

// Update godoc
// @Summary Update a machine
// @Tags Machines
// @Accept json
// @Produce json
// @Param id path string true "Machine ID"
// @Param payload body models.UpdateMachineRequest true "Machine payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/machines/{id} [put]
func (h *MachineHandler) Update(c *gin.Context) {
	var req models.UpdateMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid machine payload"))
		return
	}

	machine, err := h.service.UpdateMachine(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, machine, nil)
}

// Archive godoc
// @Summary Archive a machine
// @Description Archived machines are excluded from slot searches and new reservations
// @Tags Machines
// @Produce json
// @Param id path string true "Machine ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/machines/{id} [delete]
func (h *MachineHandler) Archive(c *gin.Context) {
	if err := h.service.ArchiveMachine(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Reassign godoc
// @Summary Move a machine to another room
// @Tags Machines
// @Accept json
// @Produce json
// @Param id path string true "Machine ID"
// @Param payload body models.ReassignMachineRequest true "Target room"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/machines/{id}/reassign [post]
func (h *MachineHandler) Reassign(c *gin.Context) {
	var req models.ReassignMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reassignment payload"))
		return
	}

	machine, err := h.service.ReassignMachine(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, machine, nil)
}
