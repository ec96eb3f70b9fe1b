package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a resource usage snapshot of a running engine process.
type ProcessStats struct {
	PID            int32         `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	MemoryPercent  float32       `json:"memory_percent"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	LastUpdated    time.Time     `json:"last_updated"`
}

// ProcessMonitor samples resource usage of an engine process at a fixed
// interval. Sampling stops silently once the process exits.
type ProcessMonitor struct {
	pid       int32
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for the given PID.
func NewProcessMonitor(pid int) *ProcessMonitor {
	return &ProcessMonitor{
		pid:       int32(pid),
		startedAt: time.Now(),
		interval:  time.Second,
	}
}

// SetInterval sets the sampling interval. Call before Start.
func (pm *ProcessMonitor) SetInterval(d time.Duration) {
	pm.interval = d
}

// Start begins sampling in the background.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	if pm.cancel != nil {
		pm.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.loop(ctx)
}

// Stop halts sampling and waits for the sampler to exit.
func (pm *ProcessMonitor) Stop() {
	pm.mu.Lock()
	cancel := pm.cancel
	pm.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	pm.wg.Wait()
}

// Stats returns the most recent snapshot.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.stats
}

func (pm *ProcessMonitor) loop(ctx context.Context) {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	proc, err := process.NewProcess(pm.pid)
	if err != nil {
		return
	}

	pm.sample(ctx, proc)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.sample(ctx, proc)
		}
	}
}

func (pm *ProcessMonitor) sample(ctx context.Context, proc *process.Process) {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.PID = pm.pid
	pm.stats.StartedAt = pm.startedAt
	pm.stats.Duration = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now

	// Each read can fail independently once the process exits; keep
	// whatever the last successful sample recorded.
	if cpu, err := proc.PercentWithContext(ctx, 0); err == nil {
		pm.stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		pm.stats.MemoryRSSBytes = mem.RSS
	}
	if pct, err := proc.MemoryPercentWithContext(ctx); err == nil {
		pm.stats.MemoryPercent = pct
	}
}
