package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRegistrar struct {
	register func(r chi.Router)
}

func (s stubRegistrar) RegisterRoutes(r chi.Router) {
	s.register(r)
}

func newTestServer(t *testing.T, registrars ...RouteRegistrar) *Server {
	t.Helper()

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      testLogger(),
		DrainDuration:            10 * time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, registrars...)
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorContains(t, err, "config")

	_, err = New(&HTTPServerConfig{ListenAddr: "127.0.0.1:0"})
	assert.ErrorContains(t, err, "logger")

	_, err = New(&HTTPServerConfig{Log: testLogger()})
	assert.ErrorContains(t, err, "listen address")

	_, err = New(&HTTPServerConfig{ListenAddr: "127.0.0.1:0", MetricsAddr: "not a hostport", Log: testLogger()})
	assert.ErrorContains(t, err, "metrics listen address")
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestReadinessSealedUntilAPIMounted(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "sealed")

	srv.MountAPI(stubRegistrar{register: func(r chi.Router) {
		r.Get("/api/internal/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}})

	rec = doRequest(srv, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestAPISlotAnswers503UntilMounted(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/internal/rotation-jobs")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "sealed")

	srv.MountAPI(stubRegistrar{register: func(r chi.Router) {
		r.Post("/api/internal/rotation-jobs", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	}})

	rec = doRequest(srv, http.MethodPost, "/api/internal/rotation-jobs")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Unknown paths under the plane now 404 from the mounted router instead
	// of the sealed 503.
	rec = doRequest(srv, http.MethodGet, "/api/internal/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrainAndUndrain(t *testing.T) {
	srv := newTestServer(t)
	srv.MountAPI(stubRegistrar{register: func(r chi.Router) {}})

	rec := doRequest(srv, http.MethodGet, "/drain")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "draining")

	rec = doRequest(srv, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not ready")

	rec = doRequest(srv, http.MethodGet, "/drain")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already draining")

	rec = doRequest(srv, http.MethodGet, "/undrain")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/undrain")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already ready")
}

func TestRegistrarsMountedAtConstruction(t *testing.T) {
	srv := newTestServer(t, stubRegistrar{register: func(r chi.Router) {
		r.Get("/api/admin/unseal/status", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}})

	rec := doRequest(srv, http.MethodGet, "/api/admin/unseal/status")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPprofDisabledByDefault(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
