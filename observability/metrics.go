package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	printerMetricsOnce sync.Once
	printerRegistry    *PrinterMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording HTTP API
// activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kylan",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kylan",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "kylan",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kylan",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by throttling or replay policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "replay".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// PrinterMetrics tracks committed printer operations and issued volume.
type PrinterMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	volume     *prometheus.CounterVec
	paused     prometheus.Gauge
}

// Printer returns the singleton printer metrics registry.
func Printer() *PrinterMetrics {
	printerMetricsOnce.Do(func() {
		printerRegistry = &PrinterMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kylan",
				Subsystem: "printer",
				Name:      "operations_total",
				Help:      "Count of printer operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "kylan",
				Subsystem: "printer",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for printer operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kylan",
				Subsystem: "printer",
				Name:      "volume_base_units_total",
				Help:      "Base units moved by committed prints and burns segmented by flow.",
			}, []string{"flow"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "kylan",
				Subsystem: "printer",
				Name:      "paused",
				Help:      "Set to 1 while operators hold the printer module paused.",
			}),
		}
		prometheus.MustRegister(
			printerRegistry.operations,
			printerRegistry.latency,
			printerRegistry.volume,
			printerRegistry.paused,
		)
	})
	return printerRegistry
}

// Observe records one operation attempt and its end-to-end latency.
func (m *PrinterMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// AddVolume adds amount base units to the named flow (printed, staked,
// burned, unstaked, fee).
func (m *PrinterMetrics) AddVolume(flow string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.volume.WithLabelValues(flow).Add(float64(amount))
}

// SetPaused mirrors the operator pause toggle.
func (m *PrinterMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// OperationsCounter exposes the operations collector for assertions in tests.
func (m *PrinterMetrics) OperationsCounter() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.operations
}

// VolumeCounter exposes the volume collector for assertions in tests.
func (m *PrinterMetrics) VolumeCounter() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.volume
}
