package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/optimizer/internal/database"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats is a point-in-time host reading.
type SystemStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
}

// SystemStatsFunc samples host usage.
type SystemStatsFunc func(ctx context.Context) (SystemStats, error)

// SampleSystemStats reads CPU usage over 100ms and current RAM usage.
func SampleSystemStats(ctx context.Context) (SystemStats, error) {
	var stats SystemStats

	cpuPercent, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return stats, err
	}
	if len(cpuPercent) > 0 {
		stats.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, err
	}
	stats.RAMPercent = memStat.UsedPercent
	return stats, nil
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Uptime    string            `json:"uptime"`
	Databases map[string]string `json:"databases"`
	System    *SystemStats      `json:"system,omitempty"`
}

// handleHealth pings both stores and samples the host. A failing store
// turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Service:   "optimizer",
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
		Databases: map[string]string{},
	}

	for _, db := range []*database.DB{s.masterDB, s.workingDB} {
		if db == nil {
			continue
		}
		if err := db.QuickCheck(ctx); err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("Health check failed")
			resp.Databases[db.Name()] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Databases[db.Name()] = "ok"
	}

	if stats, err := s.sysStats(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to sample system stats")
	} else {
		resp.System = &stats
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
