// ABOUTME: Service info, health, readiness and metrics endpoints for the hub
// ABOUTME: Host resource figures come from gopsutil

package hub

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// warnPercent is the CPU or memory usage above which health reports "warning".
const warnPercent = 90.0

// Resources is a snapshot of host resource usage.
type Resources struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
	DiskPercent       float64 `json:"disk_percent"`
	AvailableMemoryGB float64 `json:"available_memory_gb"`
}

// resourceSampler reads host resource usage.
type resourceSampler func(ctx context.Context) (Resources, error)

// sampleHost reads resource usage from the local host.
func sampleHost(ctx context.Context) (Resources, error) {
	var res Resources

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return res, fmt.Errorf("reading cpu usage: %w", err)
	}
	if len(percents) > 0 {
		res.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return res, fmt.Errorf("reading memory usage: %w", err)
	}
	res.MemoryPercent = vm.UsedPercent
	res.AvailableMemoryGB = float64(vm.Available) / (1 << 30)

	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return res, fmt.Errorf("reading disk usage: %w", err)
	}
	res.DiskPercent = du.UsedPercent

	return res, nil
}

// handleInfo handles GET /.
func (h *Hub) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "posbridge-hub",
		"version":   Version,
		"server_id": h.serverID,
		"status":    "running",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"agents":    h.registry.Len(),
	})
}

// handleHealth handles GET /health.
func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.health(ctx)
	if err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	status := "healthy"
	if res.CPUPercent > warnPercent || res.MemoryPercent > warnPercent {
		status = "warning"
	}

	now := h.registry.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": unixSeconds(now),
		"resources": res,
		"agents": map[string]int{
			"total":  h.registry.Len(),
			"online": h.registry.CountOnline(now),
		},
	})
}

// handleReady returns 200 once at least one agent is online.
func (h *Hub) handleReady(w http.ResponseWriter, r *http.Request) {
	online := h.registry.CountOnline(h.registry.Now())
	if online == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents online"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents online)", online)
}

// handleMetrics handles GET on the configured metrics path.
func (h *Hub) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !h.config.Metrics.Enabled {
		sendJSONError(w, http.StatusNotFound, "metrics disabled")
		return
	}

	now := h.registry.Now()
	metrics := map[string]any{
		"posbridge_hub_info": map[string]any{
			"version":        Version,
			"uptime_seconds": int64(time.Since(h.started).Seconds()),
		},
		"posbridge_hub_agents": map[string]int{
			"total":  h.registry.Len(),
			"online": h.registry.CountOnline(now),
		},
		"posbridge_hub_relay": h.relay.Stats(),
		"posbridge_hub_notifications": map[string]int{
			"dedupe_window_size": h.dedupe.Len(),
		},
	}

	if h.journal != nil {
		counts, err := h.journal.CountByOutcome(r.Context())
		if err != nil {
			h.logger.Warn("failed to count journal outcomes", "error", err)
		} else {
			metrics["posbridge_hub_journal"] = counts
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
