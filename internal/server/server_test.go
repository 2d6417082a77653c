package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/optimizer/internal/config"
	"github.com/aristath/optimizer/internal/database"
	"github.com/aristath/optimizer/internal/modules/optimization"
	testingpkg "github.com/aristath/optimizer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:              8080,
		DevMode:           true,
		AllowedOrigins:    []string{"*"},
		RequestTimeout:    time.Minute,
		OptimizeRateLimit: 1,
		OptimizeBurst:     2,
	}
}

func fixedStats(context.Context) (SystemStats, error) {
	return SystemStats{CPUPercent: 12.5, RAMPercent: 40}, nil
}

func TestHandleHealth(t *testing.T) {
	master := testingpkg.NewTestDB(t, database.Master)
	working := testingpkg.NewTestDB(t, database.Working)

	s := New(Config{
		Log:           zerolog.Nop(),
		MasterDB:      master,
		WorkingDB:     working,
		Config:        testConfig(),
		SystemMetrics: fixedStats,
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, map[string]string{"master": "ok", "working": "ok"}, resp.Databases)
	require.NotNil(t, resp.System)
	assert.Equal(t, 12.5, resp.System.CPUPercent)
}

func TestHandleHealth_DegradedStore(t *testing.T) {
	master := testingpkg.NewTestDB(t, database.Master)
	require.NoError(t, master.Close())

	s := New(Config{
		Log:      zerolog.Nop(),
		MasterDB: master,
		Config:   testConfig(),
		SystemMetrics: func(context.Context) (SystemStats, error) {
			return SystemStats{}, errors.New("no procfs")
		},
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"master":"unavailable"`)
	assert.NotContains(t, rec.Body.String(), "cpu_percent")
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMetrics()
	m.ObserveOptimization(optimization.MaxSharpe, 20*time.Millisecond, nil)
	m.ObserveOptimization(optimization.MinVolTargetReturn, time.Millisecond,
		&optimization.SolverNonConvergenceError{Objective: optimization.MinVolTargetReturn})
	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)

	s := New(Config{Log: zerolog.Nop(), Config: testConfig(), Metrics: m, SystemMetrics: fixedStats})

	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `optimizer_optimization_duration_seconds_count{method="max_sharpe",result="ok"} 1`)
	assert.Contains(t, text, `optimizer_optimization_failures_total{kind="non_convergence",method="min_vol_target_return"} 1`)
	assert.Contains(t, text, `optimizer_result_cache_lookups_total{outcome="hit"} 1`)
	assert.Contains(t, text, `optimizer_http_request_duration_seconds_count{method="GET",route="/health",status="200"} 1`)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rejected := 0
	rl.OnReject(func() { rejected++ })
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/optimize", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1002"))
	assert.Equal(t, 1, rejected)

	// Other clients have their own bucket
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:1000"))

	// Tokens refill with time
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1003"))

	now = now.Add(visitorTTL + time.Second)
	rl.evictIdle()
	assert.Empty(t, rl.visitors)
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
	assert.Empty(t, rl.visitors)
}
