package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const NAMESPACE = "opentrellis"

// domain events counted by Event
const (
	EVENT_POST_CREATED          = "post_created"
	EVENT_POST_SOLVED           = "post_solved"
	EVENT_COMMENT_CREATED       = "comment_created"
	EVENT_POLL_VOTE             = "poll_vote"
	EVENT_MESSAGE_SENT          = "message_sent"
	EVENT_THREAD_ACCEPTED       = "thread_accepted"
	EVENT_THREAD_REJECTED       = "thread_rejected"
	EVENT_MENTOR_APPLIED        = "mentor_applied"
	EVENT_MENTOR_APPROVED       = "mentor_approved"
	EVENT_MENTOR_REJECTED       = "mentor_rejected"
	EVENT_MENTOR_REMOVED        = "mentor_removed"
	EVENT_CHECKOUT_CREATED      = "checkout_created"
	EVENT_SUBSCRIPTION_CANCELED = "subscription_canceled"
)

type Metrics struct {
	registry     *prometheus.Registry
	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	events       *prometheus.CounterVec
	webhooks     *prometheus.CounterVec
	jobRuns      *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: "forum",
			Name:      "events_total",
			Help:      "Domain events by name.",
		}, []string{"event"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Billing webhook events by type and outcome.",
		}, []string{"type", "handled"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job runs.",
		}, []string{"job", "success"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"job"}),
	}
	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.events,
		m.webhooks,
		m.jobRuns,
		m.jobDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasSuffix(c.Path(), "/metrics") {
				return next(c)
			}
			start := time.Now()
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := strings.ToUpper(c.Request().Method)
			m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Event is safe to call on a nil *Metrics so services can run without one in tests.
func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

func (m *Metrics) Webhook(eventType string, handled bool) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(eventType, strconv.FormatBool(handled)).Inc()
}

func (m *Metrics) JobRun(job string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	m.jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}
