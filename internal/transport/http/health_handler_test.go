package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txtconv/internal/services"
	ws "txtconv/internal/websocket"
)

func newTestHealthHandler(t *testing.T) *HealthHandler {
	t.Helper()
	hub := ws.NewHub(testLogger())
	hub.Start()
	t.Cleanup(hub.Stop)
	svc := services.NewHealthService("1.0.0", "", nil, hub, testLogger())
	return NewHealthHandler(svc, testLogger())
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status services.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "1.0.0", status.Version)
}

func TestReadyEndpoint(t *testing.T) {
	h := newTestHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status services.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ready", status.Status)
}

func TestReadyEndpointNotReady(t *testing.T) {
	svc := services.NewHealthService("1.0.0", "", nil, nil, testLogger())
	h := NewHealthHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveEndpoint(t *testing.T) {
	h := newTestHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status services.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "alive", status.Status)
	assert.Contains(t, status.Runtime, "goroutines")
}

func TestDetailedEndpoint(t *testing.T) {
	h := newTestHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/detailed", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Contains(t, detail, "health")
	assert.Contains(t, detail, "stats")
}

func TestVersionEndpoint(t *testing.T) {
	h := newTestHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	http.HandlerFunc(h.Version).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "1.0.0", info["version"])
	assert.Contains(t, info, "go_version")
}
