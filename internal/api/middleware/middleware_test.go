package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zatekoja/healthcare-scheduling/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
}

func TestCORSMiddleware(t *testing.T) {
	t.Run("wildcard by default", func(t *testing.T) {
		h := middleware.CORSMiddleware(nil)(okHandler())
		req := httptest.NewRequest("GET", "/api/appointments", nil)
		req.Header.Set("Origin", "https://clinic.example")
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Retry-After", w.Header().Get("Access-Control-Expose-Headers"))
		assert.Equal(t, http.StatusTeapot, w.Code)
	})

	t.Run("echoes listed origin only", func(t *testing.T) {
		h := middleware.CORSMiddleware([]string{"https://clinic.example"})(okHandler())

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://clinic.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, "https://clinic.example", w.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("answers preflight", func(t *testing.T) {
		h := middleware.CORSMiddleware(nil)(okHandler())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/api/appointments", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestObservabilityAndLoggingMiddleware_PassThroughStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /api/appointments/{id}", okHandler())

	h := middleware.ObservabilityMiddleware(nil)(middleware.LoggingMiddleware(mux))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/appointments/appt-1", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}
