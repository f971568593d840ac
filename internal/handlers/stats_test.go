package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brightensolutions/brightensolutions-sub000/internal/export"
	"github.com/brightensolutions/brightensolutions-sub000/internal/services"
	"github.com/brightensolutions/brightensolutions-sub000/pkg/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedVisitor(t *testing.T, env *testEnv) {
	var data tracking.VisitorData
	require.NoError(t, json.Unmarshal([]byte(validBody), &data))
	_, err := env.visitors.Save(context.Background(), services.Snapshot{Data: data, IP: "198.51.100.23"})
	require.NoError(t, err)
}

func TestGetStats(t *testing.T) {
	env := setupTestHandler(t)
	r := setupTestRouter(env.h)
	seedVisitor(t, env)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/tracking/stats", nil)
	req.Header.Set("Authorization", adminToken(t))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var stats services.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Visitors)
	assert.Equal(t, int64(2), stats.PageViews)
	assert.Equal(t, []services.Bucket{{Name: "desktop", Count: 1}}, stats.Devices)
}

func TestExportParquet(t *testing.T) {
	env := setupTestHandler(t)
	r := setupTestRouter(env.h)
	seedVisitor(t, env)

	t.Run("Unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/tracking/export.parquet", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Download", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/tracking/export.parquet", nil)
		req.Header.Set("Authorization", adminToken(t))
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/vnd.apache.parquet", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), ".parquet")
		assert.Equal(t, "2", w.Header().Get("X-Row-Count"))

		visits, err := export.ReadPageVisits(context.Background(), bytes.NewReader(w.Body.Bytes()))
		require.NoError(t, err)
		require.Len(t, visits, 2)
		assert.Equal(t, "/", visits[0].Path)
	})
}
