package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	clientOnce sync.Once

	tokenUpstreamStarts prometheus.Counter
	realtimeConnects    *prometheus.CounterVec
)

// InitClient registers collectors used by operator-side processes.
func InitClient() {
	clientOnce.Do(func() {
		tokenUpstreamStarts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "token_stream_upstream_starts_total",
				Help: "Times the shared credential observation was (re)started",
			},
		)
		realtimeConnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "realtime_connect_attempts_total",
				Help: "Realtime connection attempts by result",
			},
			[]string{"result"},
		)
		prometheus.MustRegister(tokenUpstreamStarts, realtimeConnects)
	})
}

// IncTokenUpstreamStart counts a start of the shared credential observation.
func IncTokenUpstreamStart() {
	if tokenUpstreamStarts != nil {
		tokenUpstreamStarts.Inc()
	}
}

// IncRealtimeConnect counts a realtime connection attempt outcome.
func IncRealtimeConnect(ok bool) {
	result := resultSuccess
	if !ok {
		result = resultError
	}
	if realtimeConnects != nil {
		realtimeConnects.WithLabelValues(result).Inc()
	}
}
