package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCounters(t *testing.T) {
	m := New()

	m.SetSessions(3)
	m.StreamStarted()
	m.ItemSent()
	m.ItemSent()
	m.HeartbeatSent()
	m.ClientGone()
	m.ProducerFailed()
	m.ProducerDetached()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeStreams))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.items))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.heartbeats))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.producerErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detached))

	m.StreamFinished()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeStreams))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetSessions(1)
		m.StreamStarted()
		m.StreamFinished()
		m.ItemSent()
		m.HeartbeatSent()
		m.ClientGone()
		m.ProducerFailed()
		m.ProducerDetached()
	})

	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, m.Middleware(h))
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/query", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/query?session_id=x&query=y", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", "/api/query", "404")))
}

func TestHandlerExposesGatewayMetrics(t *testing.T) {
	m := New()
	m.SetSessions(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "chat_gateway_sessions 2"))
	assert.Contains(t, string(body), "go_goroutines")
}
