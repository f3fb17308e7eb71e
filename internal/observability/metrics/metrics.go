package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "greenhouse_"

	resultSuccess = "success"
	resultError   = "error"

	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultFailed   = "failed"

	ScopeZone   = "zone"
	ScopeGlobal = "global"
)

var (
	registerOnce sync.Once

	ingestBatches     *prometheus.CounterVec
	ingestUpdates     prometheus.Counter
	ingestFieldErrors *prometheus.CounterVec
	ingestLatency     *prometheus.HistogramVec

	commandStatusBroadcasts *prometheus.CounterVec
	commandStatusUnknown    prometheus.Counter

	realtimeSubscribers prometheus.Gauge
	realtimeDropped     prometheus.Counter
)

// Init registers server-side collectors with the default registry.
func Init() {
	registerOnce.Do(func() {
		ingestBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_batches_total",
				Help: "Telemetry batches by source, result and rejection kind",
			},
			[]string{"source", "result", "kind"},
		)
		ingestUpdates = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_updates_admitted_total",
				Help: "Telemetry updates admitted",
			},
		)
		ingestFieldErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_field_errors_total",
				Help: "Telemetry field validation errors by field and code",
			},
			[]string{"field", "code"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "telemetry_ingest_latency_seconds",
				Help:    "Telemetry ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		commandStatusBroadcasts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_status_broadcasts_total",
				Help: "Command status broadcasts by channel scope and result",
			},
			[]string{"scope", "result"},
		)
		commandStatusUnknown = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_status_unknown_total",
				Help: "Command status events carrying an unrecognised status",
			},
		)

		realtimeSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "realtime_subscribers",
				Help: "Connected realtime subscribers",
			},
		)
		realtimeDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "realtime_dropped_messages_total",
				Help: "Realtime messages dropped because a subscriber buffer was full",
			},
		)

		prometheus.MustRegister(
			ingestBatches,
			ingestUpdates,
			ingestFieldErrors,
			ingestLatency,
			commandStatusBroadcasts,
			commandStatusUnknown,
			realtimeSubscribers,
			realtimeDropped,
		)
	})
}

// ObserveIngest records a batch outcome. kind is empty for accepted batches.
func ObserveIngest(source, result, kind string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = ResultAccepted
	}
	if ingestBatches != nil {
		ingestBatches.WithLabelValues(source, result, kind).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddAdmittedUpdates counts admitted updates.
func AddAdmittedUpdates(count int) {
	if count <= 0 || ingestUpdates == nil {
		return
	}
	ingestUpdates.Add(float64(count))
}

// IncFieldError counts one field validation error.
func IncFieldError(field, code string) {
	if field == "" {
		field = "item"
	}
	if ingestFieldErrors != nil {
		ingestFieldErrors.WithLabelValues(field, code).Inc()
	}
}

// IncStatusBroadcast counts a command status broadcast.
func IncStatusBroadcast(scope string, ok bool) {
	result := resultSuccess
	if !ok {
		result = resultError
	}
	if commandStatusBroadcasts != nil {
		commandStatusBroadcasts.WithLabelValues(scope, result).Inc()
	}
}

// IncUnknownStatus counts an event with an unrecognised status. The status
// itself is producer supplied and stays out of the label set.
func IncUnknownStatus() {
	if commandStatusUnknown != nil {
		commandStatusUnknown.Inc()
	}
}

// SetRealtimeSubscribers sets the connected subscriber gauge.
func SetRealtimeSubscribers(count int) {
	if realtimeSubscribers != nil {
		realtimeSubscribers.Set(float64(count))
	}
}

// IncRealtimeDropped counts a dropped realtime message.
func IncRealtimeDropped() {
	if realtimeDropped != nil {
		realtimeDropped.Inc()
	}
}
