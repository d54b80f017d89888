package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "adms_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	heartbeats       *prometheus.CounterVec
	heartbeatLatency *prometheus.HistogramVec

	commandsQueued prometheus.Counter
	commandResults *prometheus.CounterVec
	ackLatency     prometheus.Histogram

	devicesByMode *prometheus.GaugeVec

	recordsUpserted *prometheus.CounterVec
)

// Init registers gateway metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		heartbeats = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "heartbeats_total",
				Help: "Total device heartbeats by result",
			},
			[]string{"result"},
		)
		heartbeatLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "heartbeat_latency_seconds",
				Help:    "Heartbeat handling latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		commandsQueued = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_queued_total",
				Help: "Total commands placed on device queues",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total command outcomes by status",
			},
			[]string{"status"},
		)
		ackLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_ack_latency_seconds",
				Help:    "Time from delivery to acknowledgment in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		devicesByMode = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "devices",
				Help: "Registered devices by connection mode",
			},
			[]string{"mode"},
		)

		recordsUpserted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "records_upserted_total",
				Help: "Total device-uploaded records stored by kind",
			},
			[]string{"kind"},
		)

		prometheus.MustRegister(
			heartbeats,
			heartbeatLatency,
			commandsQueued,
			commandResults,
			ackLatency,
			devicesByMode,
			recordsUpserted,
		)
	})
}

// ObserveHeartbeat records one heartbeat and its handling latency.
func ObserveHeartbeat(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if heartbeats != nil {
		heartbeats.WithLabelValues(result).Inc()
	}
	if heartbeatLatency != nil {
		heartbeatLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncCommandQueued increments the queued-command counter.
func IncCommandQueued() {
	if commandsQueued != nil {
		commandsQueued.Inc()
	}
}

// IncCommandResult counts a command outcome by status.
func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// ObserveAckLatency records delivery-to-ack latency.
func ObserveAckLatency(d time.Duration) {
	if ackLatency != nil && d >= 0 {
		ackLatency.Observe(d.Seconds())
	}
}

// SetDevices sets the device gauge for a connection mode.
func SetDevices(mode string, count int) {
	if devicesByMode != nil {
		devicesByMode.WithLabelValues(mode).Set(float64(count))
	}
}

// AddRecordsUpserted counts stored upload records by kind.
func AddRecordsUpserted(kind string, count int) {
	if count <= 0 {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if recordsUpserted != nil {
		recordsUpserted.WithLabelValues(kind).Add(float64(count))
	}
}

// Exported result labels for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
