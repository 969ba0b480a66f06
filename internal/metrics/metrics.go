// Package metrics exposes the console's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the console records. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	pushesTotal       *prometheus.CounterVec
	snapshotWrites    *prometheus.CounterVec
	connections       *prometheus.CounterVec
	plantCommits      *prometheus.CounterVec
	faultDeletes      *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

const (
	ResultOK    = "ok"
	ResultError = "error"
)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "console_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		pushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_telemetry_events_total",
			Help: "Push-channel events received by event name.",
		}, []string{"event"}),
		snapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_snapshot_writes_total",
			Help: "Write-through of the machine snapshot to local storage.",
		}, []string{"result"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_telemetry_connections_total",
			Help: "Push-channel connection attempts by transport and result.",
		}, []string{"transport", "result"}),
		plantCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_plant_commits_total",
			Help: "Plant configuration commits by result.",
		}, []string{"result"}),
		faultDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_fault_deletes_total",
			Help: "Fault delete requests by result.",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "console_active_sessions",
			Help: "View sessions currently open.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.pushesTotal,
		m.snapshotWrites,
		m.connections,
		m.plantCommits,
		m.faultDeletes,
		m.activeSessions,
	)

	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if m == nil {
				return err
			}

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) TelemetryEvent(event string) {
	if m == nil {
		return
	}
	m.pushesTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) SnapshotWrite(err error) {
	if m == nil {
		return
	}
	m.snapshotWrites.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ConnectionAttempt(transport string, err error) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport, result(err)).Inc()
}

func (m *Metrics) PlantCommit(err error) {
	if m == nil {
		return
	}
	m.plantCommits.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) FaultDelete(err error) {
	if m == nil {
		return
	}
	m.faultDeletes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
