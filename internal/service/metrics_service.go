package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the booking
// engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	slotSearches     prometheus.Counter
	reservations     *prometheus.CounterVec
	cancellations    prometheus.Counter
	externalRemovals *prometheus.CounterVec
	settingsCache    *prometheus.CounterVec
	lockWait         prometheus.Histogram
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	slotSearches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_slot_searches_total",
		Help: "Total availability searches",
	})

	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_reservations_total",
		Help: "Reservation attempts by outcome",
	}, []string{"outcome"})

	cancellations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_cancellations_total",
		Help: "Total reservation cancellations",
	})

	externalRemovals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_external_removals_total",
		Help: "Federated reservation removals by result",
	}, []string{"result"})

	settingsCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settings_cache_lookups_total",
		Help: "Settings cache lookups by result",
	}, []string{"result"})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_lock_wait_seconds",
		Help:    "Time spent waiting on the per-user reservation lock",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, slotSearches, reservations,
		cancellations, externalRemovals, settingsCache, lockWait, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		slotSearches:     slotSearches,
		reservations:     reservations,
		cancellations:    cancellations,
		externalRemovals: externalRemovals,
		settingsCache:    settingsCache,
		lockWait:         lockWait,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordSlotSearch counts one availability search.
func (m *MetricsService) RecordSlotSearch() {
	if m == nil {
		return
	}
	m.slotSearches.Inc()
}

// RecordReservation counts one reservation attempt by outcome, e.g.
// "created", "conflict", "no_machine", "lock_timeout".
func (m *MetricsService) RecordReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

// RecordCancellation counts one cancellation.
func (m *MetricsService) RecordCancellation() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

// RecordExternalRemoval counts a federated removal result.
func (m *MetricsService) RecordExternalRemoval(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.externalRemovals.WithLabelValues(result).Inc()
}

// RecordSettingsCache counts a settings cache lookup result.
func (m *MetricsService) RecordSettingsCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.settingsCache.WithLabelValues(result).Inc()
}

// ObserveLockWait records how long a booking waited for the per-user lock.
func (m *MetricsService) ObserveLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(duration.Seconds())
}
