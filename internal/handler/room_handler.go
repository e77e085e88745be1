package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/internal/service"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
	"github.com/uniexam/booking-api/pkg/response"
)

// RoomHandler wires HTTP endpoints to the room service.
type RoomHandler struct {
	service *service.RoomService
}

// NewRoomHandler creates a new handler.
func NewRoomHandler(svc *service.RoomService) *RoomHandler {
	return &RoomHandler{service: svc}
}

// List godoc
// @Summary List exam rooms
// @Tags Rooms
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /rooms [get]
func (h *RoomHandler) List(c *gin.Context) {
	rooms, err := h.service.ListRooms(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, rooms, nil)
}

// Get godoc
// @Summary Get one exam room
// @Tags Rooms
// @Produce json
// @Param id path string true "Room ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /rooms/{id} [get]
func (h *RoomHandler) Get(c *gin.Context) {
	room, err := h.service.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, room, nil)
}

// Create godoc
// @Summary Create an exam room
// @Tags Rooms
// @Accept json
// @Produce json
// @Param payload body models.CreateRoomRequest true "Room payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/rooms [post]
func (h *RoomHandler) Create(c *gin.Context) {
	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid room payload"))
		return
	}

	room, err := h.service.CreateRoom(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, room)
}

// Update godoc
// @Summary Update an exam room
// @Tags Rooms
// @Accept json
// @Produce json
// @Param id path string true "Room ID"
// @Param payload body models.UpdateRoomRequest true "Room payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/rooms/{id} [put]
func (h *RoomHandler) Update(c *gin.Context) {
	var req models.UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid room payload"))
		return
	}

	room, err := h.service.UpdateRoom(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, room, nil)
}

// ReplaceWorkingHours godoc
// @Summary Replace default working hours
// @Description Replaces all weekday working hour blocks of a room
// @Tags Rooms
// @Accept json
// @Produce json
// @Param id path string true "Room ID"
// @Param payload body models.ReplaceWorkingHoursRequest true "Working hours"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/rooms/{id}/working-hours [put]
func (h *RoomHandler) ReplaceWorkingHours(c *gin.Context) {
	var req models.ReplaceWorkingHoursRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid working hours payload"))
		return
	}

	hours, err := h.service.ReplaceWorkingHours(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, hours, nil)
}

// AddException godoc
// @Summary Add exception hours
// @Description Adds a dated exception that extends or restricts the room's default hours
// @Tags Rooms
// @Accept json
// @Produce json
// @Param id path string true "Room ID"
// @Param payload body models.ExceptionHoursRequest true "Exception"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/rooms/{id}/exceptions [post]
func (h *RoomHandler) AddException(c *gin.Context) {
	var req models.ExceptionHoursRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid exception payload"))
		return
	}

	exception, err := h.service.AddExceptionHours(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, exception)
}

// DeleteException godoc
// @Summary Delete exception hours
// @Tags Rooms
// @Produce json
// @Param id path string true "Room ID"
// @Param exceptionId path string true "Exception ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/rooms/{id}/exceptions/{exceptionId} [delete]
func (h *RoomHandler) DeleteException(c *gin.Context) {
	if err := h.service.DeleteExceptionHours(c.Request.Context(), c.Param("id"), c.Param("exceptionId")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ReplaceStartingHours godoc
// @Summary Replace starting hours
// @Description Replaces the configured slot starting times of a room. An empty list restores the hourly grid
// @Tags Rooms
// @Accept json
// @Produce json
// @Param id path string true "Room ID"
// @Param payload body models.ReplaceStartingHoursRequest true "Starting hours"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/rooms/{id}/starting-hours [put]
func (h *RoomHandler) ReplaceStartingHours(c *gin.Context) {
	var req models.ReplaceStartingHoursRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid starting hours payload"))
		return
	}

	hours, err := h.service.ReplaceStartingHours(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, hours, nil)
}
