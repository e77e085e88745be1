package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniexam/booking-api/pkg/config"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ExternalConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, nil)
}

func TestRemoveReservationSuccess(t *testing.T) {
	var gotPath, gotMethod string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	})

	err := client.RemoveReservation(context.Background(), "res-77", "user@org-b")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/enrolments/user@org-b/reservations/res-77", gotPath)
}

func TestRemoveReservationNotFoundIsIdempotent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, client.RemoveReservation(context.Background(), "res-77", "user@org-b"))
}

func TestRemoveReservationGatewayError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.RemoveReservation(context.Background(), "res-77", "user@org-b")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrExternalRemovalFailed))
}

func TestNoopRefusesRemoval(t *testing.T) {
	err := Noop{}.RemoveReservation(context.Background(), "res-77", "user@org-b")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrExternalRemovalFailed))
}
