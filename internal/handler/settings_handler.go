package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uniexam/booking-api/internal/service"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
	"github.com/uniexam/booking-api/pkg/response"
)

// SettingsHandler wires HTTP endpoints to the settings service.
type SettingsHandler struct {
	service *service.SettingsService
}

// NewSettingsHandler creates a new handler.
func NewSettingsHandler(svc *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: svc}
}

// Get godoc
// @Summary Get a setting
// @Tags Settings
// @Produce json
// @Param name path string true "Setting name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/settings/{name} [get]
func (h *SettingsHandler) Get(c *gin.Context) {
	setting, err := h.service.GetSetting(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, setting, nil)
}

// Update godoc
// @Summary Update a setting
// @Description Writes a setting value. The reservation window must be a positive number of days
// @Tags Settings
// @Accept json
// @Produce json
// @Param name path string true "Setting name"
// @Param payload body object true "Setting value"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/settings/{name} [put]
func (h *SettingsHandler) Update(c *gin.Context) {
	var payload struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid setting payload"))
		return
	}

	setting, err := h.service.UpdateSetting(c.Request.Context(), c.Param("name"), payload.Value)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, setting, nil)
}
