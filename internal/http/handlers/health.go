package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/database"
	"github.com/plexbridge/plexbridge/internal/events"
	"github.com/plexbridge/plexbridge/internal/ssdp"
	"github.com/plexbridge/plexbridge/internal/stream"
)

// Subsystem status values, worst to best: unhealthy > degraded > stopped >
// healthy. Only unhealthy and degraded pull the overall status down;
// stopped subsystems were turned off on purpose.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusStopped   = "stopped"
	statusUnhealthy = "unhealthy"
)

// HealthHandler serves liveness, readiness, and the structured health
// report. Host metrics sampling is the expensive part, so the sampled block
// is cached for a minute.
type HealthHandler struct {
	version string
	started time.Time
	db      *database.DB
	store   *cache.Store
	manager *stream.Manager
	ssdp    *ssdp.Server
	hub     *events.Hub
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, db *database.DB, store *cache.Store, manager *stream.Manager, discovery *ssdp.Server, hub *events.Hub) *HealthHandler {
	return &HealthHandler{
		version: version,
		started: time.Now(),
		db:      db,
		store:   store,
		manager: manager,
		ssdp:    discovery,
		hub:     hub,
	}
}

// Register registers the structured health report with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health report",
		Description: "Returns uptime, host metrics and per-subsystem health with a worst-of rollup",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// RegisterProbes mounts the liveness and readiness probes as plain routes;
// orchestrators poll these and only care about the status code.
func (h *HealthHandler) RegisterProbes(r chi.Router) {
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
}

// Live handles GET /health/live. Responding at all is the check.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready handles GET /health/ready: 200 only when the metadata store
// answers a trivial query.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "metadata store not configured",
		})
		return
	}
	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "metadata store unreachable: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HealthInput is the input for the health report.
type HealthInput struct{}

// HealthOutput is the output for the health report.
type HealthOutput struct {
	Body HealthReport
}

// HealthReport is the structured /health document.
type HealthReport struct {
	Status        string                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	Uptime        string                     `json:"uptime"`
	UptimeSeconds float64                    `json:"uptimeSeconds"`
	System        SystemMetrics              `json:"system"`
	Subsystems    map[string]SubsystemHealth `json:"subsystems"`
}

// SubsystemHealth is one subsystem's entry in the report.
type SubsystemHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemMetrics is the sampled host block, cached for a minute.
type SystemMetrics struct {
	CPUCores           int       `json:"cpuCores"`
	Load1Min           float64   `json:"load1Min"`
	Load5Min           float64   `json:"load5Min"`
	Load15Min          float64   `json:"load15Min"`
	LoadPercentage     float64   `json:"loadPercentage"`
	TotalMemoryMB      float64   `json:"totalMemoryMB"`
	UsedMemoryMB       float64   `json:"usedMemoryMB"`
	AvailableMemoryMB  float64   `json:"availableMemoryMB"`
	ProcessMemoryMB    float64   `json:"processMemoryMB"`
	ChildProcessCount  int       `json:"childProcessCount"`
	ChildProcessesMB   float64   `json:"childProcessesMB"`
	PercentageOfSystem float64   `json:"percentageOfSystem"`
	SampledAt          time.Time `json:"sampledAt"`
}

// GetHealth builds the combined health report.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.started)

	subsystems := map[string]SubsystemHealth{
		"database":  h.databaseHealth(ctx),
		"cache":     h.cacheHealth(ctx),
		"streaming": h.streamingHealth(ctx),
		"discovery": h.discoveryHealth(),
		"events":    h.eventsHealth(),
	}

	return &HealthOutput{
		Body: HealthReport{
			Status:        rollup(subsystems),
			Timestamp:     now.UTC(),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			System:        h.systemMetrics(ctx),
			Subsystems:    subsystems,
		},
	}, nil
}

// rollup is worst-of: any unhealthy wins, then any degraded. Stopped
// subsystems do not drag the overall status down.
func rollup(subsystems map[string]SubsystemHealth) string {
	status := statusHealthy
	for _, s := range subsystems {
		switch s.Status {
		case statusUnhealthy:
			return statusUnhealthy
		case statusDegraded:
			status = statusDegraded
		}
	}
	return status
}

func (h *HealthHandler) databaseHealth(ctx context.Context) SubsystemHealth {
	if h.db == nil {
		return SubsystemHealth{Status: statusUnhealthy, Message: "not configured"}
	}

	start := time.Now()
	err := h.db.Ping(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return SubsystemHealth{Status: statusUnhealthy, Message: err.Error()}
	}
	if elapsed > 100*time.Millisecond {
		return SubsystemHealth{Status: statusDegraded, Message: "slow response: " + elapsed.Round(time.Millisecond).String()}
	}
	return SubsystemHealth{Status: statusHealthy}
}

// cacheHealth never reports unhealthy: a broken cache degrades to misses
// rather than taking the service down.
func (h *HealthHandler) cacheHealth(ctx context.Context) SubsystemHealth {
	if h.store == nil {
		return SubsystemHealth{Status: statusStopped}
	}
	health := h.store.Health(ctx)
	if !health.Healthy {
		return SubsystemHealth{Status: statusDegraded, Message: health.Error}
	}
	return SubsystemHealth{Status: statusHealthy, Message: health.Backend}
}

func (h *HealthHandler) streamingHealth(ctx context.Context) SubsystemHealth {
	if h.manager == nil {
		return SubsystemHealth{Status: statusStopped}
	}
	capacity := h.manager.Capacity(ctx)
	if capacity.Status == "critical" {
		return SubsystemHealth{Status: statusDegraded, Message: "at capacity"}
	}
	return SubsystemHealth{Status: statusHealthy}
}

func (h *HealthHandler) discoveryHealth() SubsystemHealth {
	if h.ssdp == nil || !h.ssdp.Running() {
		return SubsystemHealth{Status: statusStopped}
	}
	return SubsystemHealth{Status: statusHealthy}
}

func (h *HealthHandler) eventsHealth() SubsystemHealth {
	if h.hub == nil {
		return SubsystemHealth{Status: statusStopped}
	}
	return SubsystemHealth{Status: statusHealthy}
}

// systemMetrics samples host load, memory and the process tree, serving
// from the cache when the last sample is under a minute old.
func (h *HealthHandler) systemMetrics(ctx context.Context) SystemMetrics {
	var cached SystemMetrics
	if h.store != nil && h.store.Get(ctx, cache.SystemMetricsKey, &cached) {
		return cached
	}

	metrics := SystemMetrics{
		CPUCores:  runtime.NumCPU(),
		SampledAt: time.Now().UTC(),
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		metrics.Load1Min = loadAvg.Load1
		metrics.Load5Min = loadAvg.Load5
		metrics.Load15Min = loadAvg.Load15
		if metrics.CPUCores > 0 {
			metrics.LoadPercentage = loadAvg.Load1 / float64(metrics.CPUCores) * 100
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		metrics.TotalMemoryMB = float64(vm.Total) / 1024 / 1024
		metrics.UsedMemoryMB = float64(vm.Used) / 1024 / 1024
		metrics.AvailableMemoryMB = float64(vm.Available) / 1024 / 1024
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			metrics.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
			if metrics.TotalMemoryMB > 0 {
				metrics.PercentageOfSystem = metrics.ProcessMemoryMB / metrics.TotalMemoryMB * 100
			}
		}
		// Encoder children count toward the process footprint.
		if children, err := proc.Children(); err == nil {
			metrics.ChildProcessCount = len(children)
			for _, child := range children {
				if childMem, err := child.MemoryInfo(); err == nil && childMem != nil {
					metrics.ChildProcessesMB += float64(childMem.RSS) / 1024 / 1024
				}
			}
		}
	}

	if h.store != nil {
		h.store.Set(ctx, cache.SystemMetricsKey, metrics, cache.TTLSystemMetrics)
	}
	return metrics
}
