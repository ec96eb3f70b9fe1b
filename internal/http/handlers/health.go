package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/rcoury/transcodarr/internal/database"
	"github.com/rcoury/transcodarr/internal/engine"
	"github.com/rcoury/transcodarr/internal/service"
)

// HealthHandler handles liveness, readiness, and health report endpoints.
type HealthHandler struct {
	version    string
	startTime  time.Time
	db         *database.DB
	engine     *engine.Supervisor
	jobService *service.JobService
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithEngine sets the engine supervisor for readiness checks.
func (h *HealthHandler) WithEngine(sup *engine.Supervisor) *HealthHandler {
	h.engine = sup
	return h
}

// WithJobService sets the job service for queue statistics.
func (h *HealthHandler) WithJobService(svc *service.JobService) *HealthHandler {
	h.jobService = svc
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness check",
		Description: "Returns 200 while the process is able to serve requests",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness check",
		Description: "Returns 200 when the service can accept new jobs",
		Tags:        []string{"System"},
	}, h.GetReadyz)

	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health report",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// LivezInput is the input for the liveness endpoint.
type LivezInput struct{}

// LivezOutput is the output for the liveness endpoint.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetLivez reports process liveness. It never checks dependencies.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*LivezOutput, error) {
	resp := &LivezOutput{}
	resp.Body.Status = "ok"
	return resp, nil
}

// ReadyzInput is the input for the readiness endpoint.
type ReadyzInput struct{}

// ReadyzResponse is the readiness report body.
type ReadyzResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// ReadyzOutput is the output for the readiness endpoint.
type ReadyzOutput struct {
	Status int
	Body   ReadyzResponse
}

// GetReadyz reports whether the service can accept new jobs. Not ready maps
// to 503 so orchestrators stop routing traffic without killing the process.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ReadyzOutput, error) {
	components := map[string]string{}
	ready := true

	if h.db == nil {
		components["database"] = "not_configured"
		ready = false
	} else if err := h.db.Ping(ctx); err != nil {
		components["database"] = "error"
		ready = false
	} else {
		components["database"] = "ok"
	}

	if h.engine == nil {
		components["engine"] = "not_configured"
		ready = false
	} else if err := h.engine.Ready(ctx); err != nil {
		components["engine"] = "unavailable"
		ready = false
	} else {
		components["engine"] = "ok"
	}

	if h.jobService == nil {
		components["intake"] = "not_configured"
		ready = false
	} else if h.jobService.Draining() {
		components["intake"] = "draining"
		ready = false
	} else {
		components["intake"] = "ok"
	}

	out := &ReadyzOutput{
		Status: 200,
		Body: ReadyzResponse{
			Status:     "ready",
			Components: components,
		},
	}
	if !ready {
		out.Status = 503
		out.Body.Status = "not_ready"
	}
	return out, nil
}

// HealthInput is the input for the health report endpoint.
type HealthInput struct{}

// CPUInfo reports CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB      float64 `json:"total_memory_mb"`
	UsedMemoryMB       float64 `json:"used_memory_mb"`
	AvailableMemoryMB  float64 `json:"available_memory_mb"`
	SwapTotalMB        float64 `json:"swap_total_mb"`
	SwapUsedMB         float64 `json:"swap_used_mb"`
	ProcessMemoryMB    float64 `json:"process_memory_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// DatabaseHealth reports job store connectivity and pool usage.
type DatabaseHealth struct {
	Status             string  `json:"status"`
	ConnectionPoolSize int     `json:"connection_pool_size"`
	ActiveConnections  int     `json:"active_connections"`
	IdleConnections    int     `json:"idle_connections"`
	ResponseTimeMS     float64 `json:"response_time_ms"`
}

// EngineHealth reports the detected transcoding engine installation.
type EngineHealth struct {
	Status       string `json:"status"`
	Path         string `json:"path,omitempty"`
	Version      string `json:"version,omitempty"`
	EncoderCount int    `json:"encoder_count,omitempty"`
	Error        string `json:"error,omitempty"`
}

// JobsHealth reports queue occupancy and worker-pool status.
type JobsHealth struct {
	Status        string `json:"status"`
	Queued        int64  `json:"queued"`
	Running       int64  `json:"running"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	WorkerCount   int    `json:"worker_count"`
}

// HealthComponents groups per-component health reports.
type HealthComponents struct {
	Database DatabaseHealth `json:"database"`
	Engine   EngineHealth   `json:"engine"`
	Jobs     JobsHealth     `json:"jobs"`
}

// HealthResponse is the full health report body.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu"`
	Memory        MemoryInfo        `json:"memory"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// HealthOutput is the output for the health report endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the full health report.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)
	engineHealth := h.getEngineHealth(ctx)
	jobsHealth := h.getJobsHealth(ctx)

	status := "healthy"
	if dbHealth.Status != "ok" || engineHealth.Status != "ok" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.getCPUInfo(),
			Memory:        h.getMemoryInfo(),
			Components: HealthComponents{
				Database: dbHealth,
				Engine:   engineHealth,
				Jobs:     jobsHealth,
			},
			Checks: map[string]string{
				"database": dbHealth.Status,
				"engine":   engineHealth.Status,
				"jobs":     jobsHealth.Status,
			},
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()

	info := CPUInfo{
		Cores: cores,
	}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// getMemoryInfo returns system and process memory usage, including the
// engine child processes spawned by workers.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	swapStat, err := mem.SwapMemory()
	if err == nil && swapStat != nil {
		info.SwapTotalMB = float64(swapStat.Total) / 1024 / 1024
		info.SwapUsedMB = float64(swapStat.Used) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
		if info.TotalMemoryMB > 0 {
			info.PercentageOfSystem = (info.ProcessMemoryMB / info.TotalMemoryMB) * 100
		}
	}

	if children, err := proc.Children(); err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			if childMem, err := child.MemoryInfo(); err == nil && childMem != nil {
				info.ChildProcessesMB += float64(childMem.RSS) / 1024 / 1024
			}
		}
	}

	return info
}

// getDatabaseHealth returns job store connectivity and pool usage.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok"}

	if h.db == nil {
		health.Status = "not_configured"
		return health
	}

	sqlDB, err := h.db.DB.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ConnectionPoolSize = stats.MaxOpenConnections
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}

	return health
}

// getEngineHealth returns the detected engine installation details.
func (h *HealthHandler) getEngineHealth(ctx context.Context) EngineHealth {
	if h.engine == nil {
		return EngineHealth{Status: "not_configured"}
	}

	info, err := h.engine.BinaryInfo(ctx)
	if err != nil {
		return EngineHealth{Status: "unavailable", Error: err.Error()}
	}

	return EngineHealth{
		Status:       "ok",
		Path:         info.FFmpegPath,
		Version:      info.Version,
		EncoderCount: len(info.Encoders),
	}
}

// getJobsHealth returns queue occupancy and worker-pool status.
func (h *HealthHandler) getJobsHealth(ctx context.Context) JobsHealth {
	if h.jobService == nil {
		return JobsHealth{Status: "not_configured"}
	}

	stats, err := h.jobService.Stats(ctx)
	if err != nil {
		return JobsHealth{Status: "error"}
	}

	status := "ok"
	if h.jobService.Draining() {
		status = "draining"
	}

	return JobsHealth{
		Status:        status,
		Queued:        stats.QueuedCount,
		Running:       stats.RunningCount,
		QueueDepth:    stats.QueueDepth,
		QueueCapacity: stats.QueueCapacity,
		WorkerCount:   stats.WorkerCount,
	}
}
