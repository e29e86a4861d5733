package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsHandler(t *testing.T) {
	t.Run("ServesIndex", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newHandler(9090).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), ":9090/metrics")
	})

	t.Run("UnknownPathIsNotFound", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newHandler(9090).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("DisabledMetricsUnavailable", func(t *testing.T) {
		if IsEnabled() {
			t.Skip("global registry already initialized")
		}
		rec := httptest.NewRecorder()
		newHandler(9090).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
