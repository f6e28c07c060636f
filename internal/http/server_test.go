package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/conceptd/internal/logging"
	"github.com/fyrsmithlabs/conceptd/internal/pipeline"
	"github.com/fyrsmithlabs/conceptd/internal/telemetry"
)

type staticSessions []pipeline.Stats

func (s staticSessions) Stats() []pipeline.Stats { return s }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(staticSessions(nil), logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(staticSessions(nil), nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when sessions are nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "session lister cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, err := NewServer(staticSessions(nil), logging.NewNop(), nil)
	require.NoError(t, err)

	rec := get(t, server.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHandleHealth_WithTelemetry(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	server, err := NewServer(staticSessions(nil), logging.NewNop(), nil, WithTelemetry(tel.Telemetry))
	require.NoError(t, err)

	rec := get(t, server.Handler(), "/health")
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Telemetry)
	assert.True(t, resp.Telemetry.Enabled)
	assert.False(t, resp.Telemetry.Degraded)
}

func TestHandleSessions(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		server, err := NewServer(staticSessions(nil), logging.NewNop(), nil)
		require.NoError(t, err)

		rec := get(t, server.Handler(), "/api/v1/sessions")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"sessions":[],"count":0}`, rec.Body.String())
	})

	t.Run("lists sessions", func(t *testing.T) {
		sessions := staticSessions{
			{SessionID: "bio-101", Segments: 12, Cycles: 2, Concepts: 9, PendingChars: 40},
			{SessionID: "phys-200", InFlight: true},
		}
		server, err := NewServer(sessions, logging.NewNop(), nil)
		require.NoError(t, err)

		rec := get(t, server.Handler(), "/api/v1/sessions")
		var resp SessionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, "bio-101", resp.Sessions[0].SessionID)
		assert.Equal(t, uint64(9), resp.Sessions[0].Concepts)
		assert.True(t, resp.Sessions[1].InFlight)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	pipeline.NewMetrics()
	server, err := NewServer(staticSessions(nil), logging.NewNop(), nil)
	require.NoError(t, err)

	rec := get(t, server.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "conceptd_active_sessions")
}

func TestMetricsMiddleware(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	server, err := NewServer(staticSessions(nil), logging.NewNop(), nil, WithTelemetry(tel.Telemetry))
	require.NoError(t, err)

	get(t, server.Handler(), "/health")
	get(t, server.Handler(), "/api/v1/sessions")

	var rm metricdata.ResourceMetrics
	require.NoError(t, tel.MetricReader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["conceptd.http.requests_total"])
	assert.True(t, names["conceptd.http.request_duration_seconds"])
}
