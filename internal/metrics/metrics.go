package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vine_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vine_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vine_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vine_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vine_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vine_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vine_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	eventStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vine_event_streams",
			Help: "Number of open WebSocket event streams",
		},
	)

	engineFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vine_engine_fires_total",
			Help: "Total number of job fires by the scheduling engine",
		},
		[]string{"job", "kind", "status"},
	)

	engineTriggersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vine_engine_triggers_active",
			Help: "Number of repeating triggers armed in the scheduling engine",
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vine_runs_total",
			Help: "Total number of processing runs by final status",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vine_run_duration_seconds",
			Help:    "Processing run duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
	)

	recordsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vine_records_processed_total",
			Help: "Total number of records processed by completed runs",
		},
	)

	staleSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vine_stale_runs_swept_total",
			Help: "Total number of abandoned runs closed by the sweeper or on startup",
		},
		[]string{"status"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vine_events_published_total",
			Help: "Total number of events published on the event bus",
		},
		[]string{"type", "action"},
	)

	schedulerEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vine_scheduler_enabled",
			Help: "Whether the recurring schedule is enabled (1) or stopped (0)",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}

func UpdateEventStreams(n int) {
	eventStreams.Set(float64(n))
}

// RecordEngineFire counts one job fire. kind is "scheduled" or "manual".
func RecordEngineFire(job, kind string, failed bool) {
	status := "success"
	if failed {
		status = "failure"
	}
	engineFires.WithLabelValues(job, kind, status).Inc()
}

func SetActiveTriggers(n int) {
	engineTriggersActive.Set(float64(n))
}

// RecordRun records the outcome of one processing run.
func RecordRun(status string, duration time.Duration, records int64) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(duration.Seconds())
	if records > 0 {
		recordsProcessed.Add(float64(records))
	}
}

func RecordSwept(status string, n int) {
	if n > 0 {
		staleSwept.WithLabelValues(status).Add(float64(n))
	}
}

func RecordEvent(eventType, action string) {
	eventsPublished.WithLabelValues(eventType, action).Inc()
}

func SetSchedulerEnabled(enabled bool) {
	if enabled {
		schedulerEnabled.Set(1)
		return
	}
	schedulerEnabled.Set(0)
}

// NormalizePath replaces path parameters ("{id}") with ":" and trims long
// paths so label cardinality stays bounded.
func NormalizePath(path string) string {
	if len(path) > 100 {
		path = path[:100]
	}

	var b strings.Builder
	inParam := false
	for i := 0; i < len(path); i++ {
		switch {
		case path[i] == '{':
			inParam = true
			b.WriteByte(':')
		case path[i] == '}':
			inParam = false
		case !inParam:
			b.WriteByte(path[i])
		}
	}
	return b.String()
}
