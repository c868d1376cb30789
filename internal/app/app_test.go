package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txtconv/internal/config"
	"txtconv/internal/infrastructure"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Store.Enabled = true
	cfg.Store.Path = filepath.Join(t.TempDir(), "jobs.db")
	cfg.Paths.StaticDir = filepath.Join(t.TempDir(), "no-static")
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogsDir = t.TempDir()
	return cfg
}

// newTestApplication wires an application without loading external
// configuration or registering metrics against the global registry.
func newTestApplication(t *testing.T, cfg *config.Config) *Application {
	t.Helper()

	app := &Application{
		Config:  cfg,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: &infrastructure.MetricsProviders{},
	}

	require.NoError(t, app.initializeServices())
	require.NoError(t, app.setupRouter())

	t.Cleanup(func() {
		app.WebSocketHub.Stop()
		if app.Store != nil {
			app.Store.Close()
		}
	})

	return app
}

func TestHealthEndpoints(t *testing.T) {
	app := newTestApplication(t, testConfig(t))
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	resp, err = http.Get(srv.URL + "/api/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVersionEndpoint(t *testing.T) {
	app := newTestApplication(t, testConfig(t))
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/version")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, VERSION, body["version"])
}

func TestCharsetsEndpoint(t *testing.T) {
	app := newTestApplication(t, testConfig(t))
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/charsets")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Charsets []struct {
			Name string `json:"name"`
		} `json:"charsets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Charsets)
}

func TestConvertEndpoint(t *testing.T) {
	app := newTestApplication(t, testConfig(t))
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	payload := map[string]interface{}{
		"text": "héllo wörld",
		"from": "utf-8",
		"to":   "windows-1252",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/convert", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "utf-8", body["source_charset"])
	assert.Equal(t, "windows-1252", body["target_charset"])
}

func TestNotFoundReturnsProblemJSON(t *testing.T) {
	app := newTestApplication(t, testConfig(t))
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/no-such-route")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/problem+json")
}

func TestMetricsEndpointAbsentWhenDisabled(t *testing.T) {
	app := newTestApplication(t, testConfig(t))
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaticRoutes(t *testing.T) {
	cfg := testConfig(t)
	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>txtconv</html>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log('ok')"), 0644))
	cfg.Paths.StaticDir = staticDir

	app := newTestApplication(t, cfg)
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "txtconv")

	resp, err = http.Get(srv.URL + "/static/app.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Enabled = false

	app := newTestApplication(t, cfg)
	assert.Nil(t, app.Store)

	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/jobs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Readiness does not depend on the store
	resp, err = http.Get(srv.URL + "/api/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecurityHeaders(t *testing.T) {
	app := newTestApplication(t, testConfig(t))
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCORSConfigExposesConversionHeaders(t *testing.T) {
	app := newTestApplication(t, testConfig(t))

	cors := app.corsConfig()
	assert.Equal(t, app.Config.Security.AllowedOrigins, cors.AllowedOrigins)
	assert.Contains(t, cors.ExposedHeaders, "X-Job-Id")
	assert.Contains(t, cors.ExposedHeaders, "X-Source-Charset")
}
