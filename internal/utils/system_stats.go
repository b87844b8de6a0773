package utils

import (
	"context"
	"runtime"
	"sync"
	"time"

	"face-attendance/internal/core/processor"
	"face-attendance/internal/integrations/facerecognition"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// PendingCounter zählt Löschungen, die noch auf den Face-Service warten.
type PendingCounter interface {
	CountPendingOperations(ctx context.Context) (int64, error)
}

// ServiceStatus is what GET /api/status reports.
type ServiceStatus struct {
	Provider           facerecognition.ProviderType   `json:"provider,omitempty"`
	ProviderAvailable  bool                           `json:"provider_available"`
	AvailableProviders []facerecognition.ProviderType `json:"available_providers"`
	// nil wenn die Zählung fehlschlägt
	PendingOperations *int64       `json:"pending_operations,omitempty"`
	System            *SystemStats `json:"system"`
}

// SystemStats describes the host and the recognition worker pool.
type SystemStats struct {
	NumCPU            int     `json:"num_cpu"`
	GoRoutines        int     `json:"go_routines"`
	CPUUsage          float64 `json:"cpu_usage"`
	MemoryAlloc       uint64  `json:"memory_alloc"`
	MemoryTotal       uint64  `json:"memory_total"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`

	RecognitionWorkers int `json:"recognition_workers"`
	ActiveFaceSearches int `json:"active_face_searches"`
	SearchQueueSize    int `json:"search_queue_size"`

	Timestamp time.Time `json:"timestamp"`
}

// cpuSampler caches the last CPU reading so frequent status polls do not each block for a sample.
type cpuSampler struct {
	mu       sync.Mutex
	at       time.Time
	usage    float64
	maxAge   time.Duration
	interval time.Duration
}

var cpuUsage = &cpuSampler{maxAge: 500 * time.Millisecond, interval: 200 * time.Millisecond}

func (s *cpuSampler) get() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.at.IsZero() && time.Since(s.at) < s.maxAge {
		return s.usage
	}
	percentages, err := cpu.Percent(s.interval, false)
	if err != nil || len(percentages) == 0 {
		log.Warnf("Fehler bei CPU-Auslastungsmessung: %v", err)
		return 0
	}
	s.at, s.usage = time.Now(), percentages[0]
	return s.usage
}

// CollectStatus fragt die Provider ab, zählt ausstehende Operationen und ergänzt die Systemwerte.
// providers, pending und pool dürfen nil sein.
func CollectStatus(ctx context.Context, providers *facerecognition.ProviderManager, pending PendingCounter, pool *processor.WorkerPool) *ServiceStatus {
	status := &ServiceStatus{
		AvailableProviders: []facerecognition.ProviderType{},
		System:             GetSystemStats(pool),
	}

	if providers != nil {
		if available := providers.GetAvailableProviders(ctx); available != nil {
			status.AvailableProviders = available
		}
		if p, ok := providers.GetActiveProvider(); ok {
			status.Provider = p.Name()
			for _, name := range status.AvailableProviders {
				if name == status.Provider {
					status.ProviderAvailable = true
				}
			}
		}
	}

	if pending != nil {
		if n, err := pending.CountPendingOperations(ctx); err == nil {
			status.PendingOperations = &n
		} else {
			log.WithError(err).Warn("Ausstehende Operationen konnten nicht gezählt werden")
		}
	}

	return status
}

// GetSystemStats erfasst Host-Werte und die Auslastung des Recognition-Pools
func GetSystemStats(pool *processor.WorkerPool) *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := &SystemStats{
		NumCPU:      runtime.NumCPU(),
		GoRoutines:  runtime.NumGoroutine(),
		CPUUsage:    cpuUsage.get(),
		MemoryAlloc: memStats.Alloc,
		Timestamp:   time.Now(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryTotal = vm.Total
		stats.MemoryUsedPercent = vm.UsedPercent
	} else {
		log.Debugf("Host-Speicher nicht verfügbar: %v", err)
	}

	if pool != nil {
		stats.RecognitionWorkers = pool.GetWorkerCount()
		stats.ActiveFaceSearches = pool.ActiveJobCount()
		stats.SearchQueueSize = pool.GetQueueCapacity()
	}

	return stats
}
