package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/posts/:postId", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/api/v1/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "nope")
	})

	for _, path := range []string{"/api/v1/posts/1", "/api/v1/posts/2", "/api/v1/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/posts/:postId", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/fail", "403")))
}

func TestEvents(t *testing.T) {
	m := New()
	m.Event(EVENT_MESSAGE_SENT)
	m.Event(EVENT_MESSAGE_SENT)
	m.Webhook("invoice.payment_failed", true)
	m.JobRun("reconcile", time.Second, true)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.events.WithLabelValues(EVENT_MESSAGE_SENT)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.webhooks.WithLabelValues("invoice.payment_failed", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobRuns.WithLabelValues("reconcile", "true")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.Event(EVENT_POST_CREATED) })
}

func TestHandler(t *testing.T) {
	m := New()
	m.Event(EVENT_POST_CREATED)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "opentrellis_forum_events_total")
}
