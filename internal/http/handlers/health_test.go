package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/config"
	"github.com/plexbridge/plexbridge/internal/database"
	"github.com/plexbridge/plexbridge/internal/stream"
)

func newHealthHandler(t *testing.T, env *testEnv) (*HealthHandler, *database.DB) {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{Path: ":memory:", LogLevel: "silent"}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	manager := stream.NewManager(env.settings, env.sessions, env.hub, discardLogger())
	return NewHealthHandler("1.2.3", db, env.store, manager, nil, env.hub), db
}

func TestHealthHandler_GetHealth(t *testing.T) {
	env := newTestEnv(t)
	handler, _ := newHealthHandler(t, env)

	resp, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	report := resp.Body
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "1.2.3", report.Version)
	assert.False(t, report.Timestamp.IsZero())

	assert.Equal(t, "healthy", report.Subsystems["database"].Status)
	assert.Equal(t, "healthy", report.Subsystems["cache"].Status)
	assert.Equal(t, "memory", report.Subsystems["cache"].Message)
	assert.Equal(t, "healthy", report.Subsystems["streaming"].Status)
	assert.Equal(t, "healthy", report.Subsystems["events"].Status)
	// No SSDP server wired: stopped on purpose, not a failure.
	assert.Equal(t, "stopped", report.Subsystems["discovery"].Status)

	assert.Greater(t, report.System.CPUCores, 0)
}

func TestRollup(t *testing.T) {
	healthy := SubsystemHealth{Status: statusHealthy}
	degraded := SubsystemHealth{Status: statusDegraded}
	stopped := SubsystemHealth{Status: statusStopped}
	unhealthy := SubsystemHealth{Status: statusUnhealthy}

	assert.Equal(t, "healthy", rollup(map[string]SubsystemHealth{"a": healthy, "b": stopped}))
	assert.Equal(t, "degraded", rollup(map[string]SubsystemHealth{"a": healthy, "b": degraded}))
	assert.Equal(t, "unhealthy", rollup(map[string]SubsystemHealth{"a": degraded, "b": unhealthy}))
	assert.Equal(t, "healthy", rollup(nil))
}

func TestHealthProbes(t *testing.T) {
	env := newTestEnv(t)
	handler, db := newHealthHandler(t, env)

	r := chi.NewRouter()
	handler.RegisterProbes(r)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	t.Run("live", func(t *testing.T) {
		rec := get("/health/live")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "alive", body["status"])
	})

	t.Run("ready", func(t *testing.T) {
		rec := get("/health/ready")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ready", body["status"])
	})

	t.Run("not ready once the store is gone", func(t *testing.T) {
		require.NoError(t, db.Close())

		rec := get("/health/ready")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_ready", body["status"])
		assert.Contains(t, body["reason"], "metadata store unreachable")
	})
}
