// Package external talks to the federated reservation gateway that owns
// reservations placed at partner organisations.
package external

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/uniexam/booking-api/pkg/config"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type removalMetrics interface {
	RecordExternalRemoval(success bool)
}

// Client removes federated reservations through the gateway's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	metrics removalMetrics
}

// NewClient constructs Client from gateway configuration.
func NewClient(cfg config.ExternalConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// WithMetrics attaches a removal outcome recorder.
func (c *Client) WithMetrics(m removalMetrics) *Client {
	c.metrics = m
	return c
}

func (c *Client) record(success bool) {
	if c.metrics != nil {
		c.metrics.RecordExternalRemoval(success)
	}
}

// RemoveReservation deletes a reservation held at a partner organisation.
// A 404 from the gateway counts as success so retried removals stay
// idempotent. Any other non-2xx response is a hard failure; the caller must
// not replace the reservation locally in that case.
func (c *Client) RemoveReservation(ctx context.Context, externalRef, externalUserRef string) error {
	endpoint := fmt.Sprintf("%s/enrolments/%s/reservations/%s",
		c.baseURL, url.PathEscape(externalUserRef), url.PathEscape(externalRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		c.record(false)
		return appErrors.Wrap(err, appErrors.ErrExternalRemovalFailed.Code, appErrors.ErrExternalRemovalFailed.Status, "building gateway request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.record(false)
		return appErrors.Wrap(err, appErrors.ErrExternalRemovalFailed.Code, appErrors.ErrExternalRemovalFailed.Status, "calling reservation gateway")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Warn("federated reservation already gone",
			zap.String("external_ref", externalRef))
		c.record(true)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.record(false)
		return appErrors.Clone(appErrors.ErrExternalRemovalFailed,
			fmt.Sprintf("reservation gateway returned status %d", resp.StatusCode))
	}

	c.logger.Info("federated reservation removed",
		zap.String("external_ref", externalRef))
	c.record(true)
	return nil
}

// Noop is the stand-in used when federation is disabled. It refuses to
// remove anything so a stray external reservation surfaces as an error
// instead of being silently orphaned.
type Noop struct{}

// RemoveReservation always fails.
func (Noop) RemoveReservation(_ context.Context, externalRef, _ string) error {
	return appErrors.Clone(appErrors.ErrExternalRemovalFailed,
		"federation is disabled, cannot remove external reservation "+externalRef)
}
