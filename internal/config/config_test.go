package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 0.04, cfg.RiskFreeRate)
	assert.Equal(t, 252, cfg.PeriodsPerYear)
	assert.Equal(t, 10*time.Second, cfg.SolverTimeout)
	assert.Equal(t, 24*time.Hour, cfg.ResultTTL)
	assert.Equal(t, 10, cfg.WorkingStoreYears)
	assert.Equal(t, filepath.Join(dir, "master.db"), cfg.MasterPath())
	assert.Equal(t, filepath.Join(dir, "working.db"), cfg.WorkingPath())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("RISK_FREE_RATE", "0.025")
	t.Setenv("SOLVER_TIMEOUT", "3s")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("ROBUST_WORKERS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 0.025, cfg.RiskFreeRate)
	assert.Equal(t, 3*time.Second, cfg.SolverTimeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 0, cfg.RobustWorkers, "unparseable values fall back to the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"periods", func(c *Config) { c.PeriodsPerYear = 0 }},
		{"iterations", func(c *Config) { c.SolverMaxIterations = -1 }},
		{"workers", func(c *Config) { c.RobustWorkers = -2 }},
		{"window", func(c *Config) { c.WorkingStoreYears = 0 }},
		{"rate", func(c *Config) { c.OptimizeRateLimit = -1 }},
		{"risk free", func(c *Config) { c.RiskFreeRate = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Port: 8080, PeriodsPerYear: 252, SolverMaxIterations: 10, WorkingStoreYears: 1}
			require.NoError(t, cfg.Validate())
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
