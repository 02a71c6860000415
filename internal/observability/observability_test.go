package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger("warn", "text")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	FromContext(ctx, base).Info("hello")
	FromContext(context.Background(), base).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	assert.NotContains(t, entries[1].ContextMap(), "request_id")
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test")

	m.ObserveDecision("authorize", "denied", "tenant_mismatch")
	m.ObserveDecision("authorize", "denied", "tenant_mismatch")
	m.ObserveThrottle("standard")
	m.AuditWritten()
	m.AuditDropped("buffer_full")
	m.ObserveResolve("ok", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("authorize", "denied", "tenant_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.throttled.WithLabelValues("standard")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditDropped.WithLabelValues("buffer_full")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("a", "b", "c")
		m.ObserveThrottle("x")
		m.AuditWritten()
		m.AuditDropped("x")
		m.ObserveResolve("ok", time.Second)
	})
}

func TestMetrics_InstrumentAndHandler(t *testing.T) {
	m := NewMetrics("test")

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contacts/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/contacts/{id}", "418")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_http_requests_total"))
}
