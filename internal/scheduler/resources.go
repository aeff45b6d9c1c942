package scheduler

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pcraw4d/scout/internal/observability"
)

// ResourceSampler periodically samples host CPU/memory utilization via
// gopsutil and republishes it as advisory prometheus gauges. It never
// throttles or blocks dispatch.
type ResourceSampler struct {
	metrics  *observability.Metrics
	interval time.Duration
	stop     chan struct{}
}

// NewResourceSampler builds a sampler that publishes into metrics every
// interval (a non-positive interval is clamped to 5s).
func NewResourceSampler(metrics *observability.Metrics, interval time.Duration) *ResourceSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ResourceSampler{metrics: metrics, interval: interval, stop: make(chan struct{})}
}

// Start runs the sampling loop until ctx is done or Stop is called.
func (r *ResourceSampler) Start(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.sampleOnce()
			}
		}
	}()
}

// Stop ends the sampling loop.
func (r *ResourceSampler) Stop() {
	close(r.stop)
}

func (r *ResourceSampler) sampleOnce() {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		r.metrics.HostCPUPercent.Set(pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.metrics.HostMemPercent.Set(vm.UsedPercent)
	}
}
