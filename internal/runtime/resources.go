package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/sched/cpu:seconds"

// ResourceUsage is a coarse process snapshot attached to handler stats.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// resourceSampler derives CPU usage from the delta between two reads.
type resourceSampler struct {
	mu      sync.Mutex
	sample  []metrics.Sample
	numCPU  float64
	prevCPU float64
	prevAt  time.Time
}

func newResourceSampler() *resourceSampler {
	return &resourceSampler{
		sample: []metrics.Sample{{Name: cpuSecondsMetric}},
		numCPU: float64(runtime.NumCPU()),
	}
}

func (r *resourceSampler) Snapshot() ResourceUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc

	metrics.Read(r.sample)
	if r.sample[0].Value.Kind() != metrics.KindFloat64 {
		return usage
	}
	cpu := r.sample[0].Value.Float64()
	now := time.Now()
	if !r.prevAt.IsZero() {
		if wall := now.Sub(r.prevAt).Seconds(); wall > 0 && r.numCPU > 0 {
			usage.CPUPercent = (cpu - r.prevCPU) / wall / r.numCPU * 100
		}
	}
	r.prevCPU, r.prevAt = cpu, now
	return usage
}
