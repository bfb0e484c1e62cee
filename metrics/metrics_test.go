package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadAddr(t *testing.T) {
	_, err := New("credential-engine", "no-port")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid metrics listen address")
}

func TestServesPrometheusMetrics(t *testing.T) {
	srv, err := New("credential-engine", "127.0.0.1:0")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	// The default registry always carries the Go runtime collectors.
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "credential-engine metrics")
}
