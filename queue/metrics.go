package queue

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"` // Workers currently executing jobs
	WorkersLive   int     `json:"workers_live"`   // Total workers held by the pool
	MemoryUsedGB  float64 `json:"memory_used_gb"` // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsPending   int     `json:"jobs_pending"`
	JobsRunning   int     `json:"jobs_running"`
}

// memoryPerWorkerGB is the rough headroom assumed per concurrent
// command execution when recommending a worker count.
const memoryPerWorkerGB = 0.5

// memoryBufferGB is reserved for the host system.
const memoryBufferGB = 2.0

// RecommendedWorkers suggests a worker count for the available memory
func RecommendedWorkers(availableGB float64) int {
	if availableGB < memoryBufferGB {
		return 1
	}

	recommended := int((availableGB - memoryBufferGB) / memoryPerWorkerGB)
	if recommended < 1 {
		return 1
	}
	if recommended > 32 {
		return 32
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage alongside
// queue and pool gauges
func (s *Service) GetSystemMetrics() SystemMetrics {
	metrics := SystemMetrics{
		WorkersActive: s.pool.ActiveCount(),
		WorkersLive:   s.pool.LiveCount(),
	}

	counts := s.store.CountByStatus()
	metrics.JobsPending = counts[StatusPending]
	metrics.JobsRunning = counts[StatusRunning]

	// Memory stats are best effort; gauges stay zero on failure
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		metrics.MemoryTotalGB = float64(vm.Total) / 1024 / 1024 / 1024
		metrics.MemoryUsedGB = float64(vm.Used) / 1024 / 1024 / 1024
		metrics.MemoryPercent = vm.UsedPercent
	}

	return metrics
}

// CheckMemoryPressure warns when the configured worker count is
// oversized for the machine. Returns an empty string when fine.
func (s *Service) CheckMemoryPressure() string {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return ""
	}

	availableGB := float64(vm.Available) / 1024 / 1024 / 1024
	recommended := RecommendedWorkers(availableGB)
	if s.cfg.MaxWorkers > recommended {
		s.logger.Warnw("Configured worker count may exceed available memory",
			"max_workers", s.cfg.MaxWorkers,
			"recommended", recommended,
			"available_gb", availableGB)
		return "max_workers above memory-based recommendation"
	}
	return ""
}
