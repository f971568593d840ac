package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouter_Health(t *testing.T) {
	env := setupTestHandler(t)
	r := setupTestRouter(env.h)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.Contains(t, w.Body.String(), `"cache":"down"`)
}

func TestRouter_Health_DatabaseDown(t *testing.T) {
	env := setupTestHandler(t)
	r := setupTestRouter(env.h)
	sqlDB, _ := env.db.DB()
	sqlDB.Close()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestRouter_CORS(t *testing.T) {
	env := setupTestHandler(t)
	r := setupTestRouter(env.h)

	t.Run("Preflight from the site origin", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("OPTIONS", "/api/tracking/visitor", nil)
		req.Header.Set("Origin", "https://brighten.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://brighten.example", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Unknown origin", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("OPTIONS", "/api/tracking/visitor", nil)
		req.Header.Set("Origin", "https://evil.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestSetupRouter_Minimal(t *testing.T) {
	env := setupTestHandler(t)
	env.h.cfg.CORSAllowedOrigins = ""
	r := env.h.SetupRouter(nil)
	assert.NotNil(t, r)
}
