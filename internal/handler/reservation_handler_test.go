package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniexam/booking-api/internal/middleware"
	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

func TestReservationHandlerCreateRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewReservationHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/reservations", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Create(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReservationHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewReservationHandler(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/reservations", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReservationOutcomeMapping(t *testing.T) {
	assert.Equal(t, "conflict", reservationOutcome(appErrors.ErrConflict))
	assert.Equal(t, "no_machine", reservationOutcome(appErrors.ErrNoMachineAvailable))
	assert.Equal(t, "lock_timeout", reservationOutcome(appErrors.ErrLockTimeout))
	assert.Equal(t, "error", reservationOutcome(appErrors.ErrInternal))
}
