// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir        string // Directory holding master.db and working.db (always absolute)
	LogLevel       string
	Port           int
	DevMode        bool
	AllowedOrigins []string

	// Engine
	RiskFreeRate        float64
	PeriodsPerYear      int
	SolverMaxIterations int
	SolverTimeout       time.Duration
	RobustWorkers       int
	RequestTimeout      time.Duration

	// Storage
	ResultTTL         time.Duration
	WorkingStoreYears int

	// POST /api/optimize rate limit, requests per second and burst
	OptimizeRateLimit float64
	OptimizeBurst     int

	// Cron specs for maintenance jobs; empty disables a job
	SyncSchedule       string
	PurgeSchedule      string
	CheckpointSchedule string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             dataDir,
		Port:                getEnvAsInt("PORT", 8080),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:      getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		RiskFreeRate:        getEnvAsFloat("RISK_FREE_RATE", 0.04),
		PeriodsPerYear:      getEnvAsInt("PERIODS_PER_YEAR", 252),
		SolverMaxIterations: getEnvAsInt("SOLVER_MAX_ITERATIONS", 1000),
		SolverTimeout:       getEnvAsDuration("SOLVER_TIMEOUT", 10*time.Second),
		RobustWorkers:       getEnvAsInt("ROBUST_WORKERS", 0),
		RequestTimeout:      getEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
		ResultTTL:           getEnvAsDuration("RESULT_TTL", 24*time.Hour),
		WorkingStoreYears:   getEnvAsInt("WORKING_STORE_YEARS", 10),
		OptimizeRateLimit:   getEnvAsFloat("OPTIMIZE_RATE_LIMIT", 2),
		OptimizeBurst:       getEnvAsInt("OPTIMIZE_BURST", 5),
		SyncSchedule:        getEnv("SYNC_SCHEDULE", "0 30 2 * * *"),
		PurgeSchedule:       getEnv("PURGE_SCHEDULE", "0 0 * * * *"),
		CheckpointSchedule:  getEnv("CHECKPOINT_SCHEDULE", "0 */15 * * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MasterPath returns the master store path.
func (c *Config) MasterPath() string {
	return filepath.Join(c.DataDir, "master.db")
}

// WorkingPath returns the working store path.
func (c *Config) WorkingPath() string {
	return filepath.Join(c.DataDir, "working.db")
}

// Validate checks that configured values are usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("PERIODS_PER_YEAR must be positive, got %d", c.PeriodsPerYear)
	}
	if c.SolverMaxIterations <= 0 {
		return fmt.Errorf("SOLVER_MAX_ITERATIONS must be positive, got %d", c.SolverMaxIterations)
	}
	if c.SolverTimeout < 0 {
		return fmt.Errorf("SOLVER_TIMEOUT cannot be negative")
	}
	if c.RobustWorkers < 0 {
		return fmt.Errorf("ROBUST_WORKERS cannot be negative")
	}
	if c.WorkingStoreYears <= 0 {
		return fmt.Errorf("WORKING_STORE_YEARS must be positive, got %d", c.WorkingStoreYears)
	}
	if c.OptimizeRateLimit < 0 || c.OptimizeBurst < 0 {
		return fmt.Errorf("OPTIMIZE_RATE_LIMIT and OPTIMIZE_BURST cannot be negative")
	}
	if c.RiskFreeRate < -1 || c.RiskFreeRate > 1 {
		return fmt.Errorf("RISK_FREE_RATE must be a decimal between -1 and 1, got %v", c.RiskFreeRate)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
