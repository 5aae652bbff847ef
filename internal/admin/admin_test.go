package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-staging-ai/miniredis/internal/diagnostics"
	"github.com/real-staging-ai/miniredis/internal/store"
)

func TestHealthCheck(t *testing.T) {
	s := New(":0", nil, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.healthCheck(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "miniredis", body["service"])
}

func TestDebugStatsWithoutReporter(t *testing.T) {
	s := New(":0", nil, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.debugStats(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap diagnostics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 0, snap.Store.Keys)
}

func TestDebugStatsReflectsReporter(t *testing.T) {
	db := store.New(nil)
	defer db.Close()
	db.Set([]byte("k"), []byte("v"), 0)

	diag := diagnostics.New(db, nil, "@every 1h")
	require.NoError(t, diag.Start())
	defer diag.Stop(context.Background())

	s := New(":0", diag, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.debugStats(c))

	var snap diagnostics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.Store.Keys)
}
