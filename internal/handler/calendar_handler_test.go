package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniexam/booking-api/internal/middleware"
	"github.com/uniexam/booking-api/internal/models"
)

func TestCalendarHandlerGetSlotsRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewCalendarHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/rooms/room-1/slots?exam=exam-1&day=2026-03-02", nil)
	c.Request = req

	h.GetSlots(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCalendarHandlerGetSlotsMissingParams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewCalendarHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/rooms/room-1/slots?exam=exam-1", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "room-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	h.GetSlots(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
