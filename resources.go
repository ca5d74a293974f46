package rangering

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/metrics"
	"sync"
)

// Limits caps what the local peer may spend on replicated data.
// A nil field is unlimited; a zero value means "do not replicate".
type Limits struct {
	Memory  *uint64  // bytes
	Storage *uint64  // bytes
	CPU     *float64 // fraction of available cores, 0..1
}

// Unlimited reports whether no resource is capped.
func (l Limits) Unlimited() bool {
	return l.Memory == nil && l.Storage == nil && l.CPU == nil
}

// blocked reports whether any limit forbids replication entirely.
func (l Limits) blocked() bool {
	return (l.Memory != nil && *l.Memory == 0) ||
		(l.Storage != nil && *l.Storage == 0) ||
		(l.CPU != nil && *l.CPU <= 0)
}

// headroom is the smallest relative spare capacity over the capped resources,
// in [-1, 1]. Negative values mean a limit is exceeded. Without caps it is 1.
func (l Limits) headroom(u Usage) float64 {
	var room = 1.0
	if l.Memory != nil && *l.Memory > 0 {
		room = min(room, spare(float64(u.Memory), float64(*l.Memory)))
	}
	if l.Storage != nil && *l.Storage > 0 {
		room = min(room, spare(float64(u.Storage), float64(*l.Storage)))
	}
	if l.CPU != nil && *l.CPU > 0 {
		room = min(room, spare(u.CPU, *l.CPU))
	}
	return room
}

func spare(used, limit float64) float64 {
	return math.Max(-1, math.Min(1, (limit-used)/limit))
}

func (l Limits) String() string {
	return fmt.Sprintf("memory=%s storage=%s cpu=%s", limitString(l.Memory), limitString(l.Storage), limitString(l.CPU))
}

func limitString[T uint64 | float64](v *T) string {
	if v == nil {
		return "unlimited"
	}
	return fmt.Sprint(*v)
}

// Usage is a point-in-time reading of local resource consumption.
type Usage struct {
	Memory  uint64
	Storage uint64
	CPU     float64
}

// ResourceMonitor supplies local resource readings to the controller.
type ResourceMonitor interface {
	Usage(ctx context.Context) (Usage, error)
}

// MonitorFunc adapts a function to a ResourceMonitor.
type MonitorFunc func(ctx context.Context) (Usage, error)

func (f MonitorFunc) Usage(ctx context.Context) (Usage, error) {
	return f(ctx)
}

// HostMonitor reads memory and CPU from the Go runtime. Storage comes from an
// optional probe, typically the size of the segment table or the log on disk.
type HostMonitor struct {
	storage func(ctx context.Context) (uint64, error)

	mu        sync.Mutex
	sampled   bool
	lastTotal float64
	lastIdle  float64
}

// NewHostMonitor creates a monitor. storage may be nil.
func NewHostMonitor(storage func(ctx context.Context) (uint64, error)) *HostMonitor {
	return &HostMonitor{storage: storage}
}

// Usage implements ResourceMonitor.
func (h *HostMonitor) Usage(ctx context.Context) (Usage, error) {
	var (
		usage Usage
		stats runtime.MemStats
	)
	runtime.ReadMemStats(&stats)
	usage.Memory = stats.HeapAlloc
	usage.CPU = h.cpu()

	if h.storage != nil {
		var size, err = h.storage(ctx)
		if err != nil {
			return Usage{}, fmt.Errorf("failed to read storage usage: %w", err)
		}
		usage.Storage = size
	}

	return usage, nil
}

// cpu returns the share of the runtime's CPU capacity that was busy since the
// previous call.
func (h *HostMonitor) cpu() float64 {
	var samples = []metrics.Sample{
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/idle:cpu-seconds"},
	}
	metrics.Read(samples)
	for _, s := range samples {
		if s.Value.Kind() != metrics.KindFloat64 {
			return 0
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		total = samples[0].Value.Float64()
		idle  = samples[1].Value.Float64()
		share float64
	)
	if span := total - h.lastTotal; h.sampled && span > 0 {
		share = 1 - (idle-h.lastIdle)/span
	}
	h.lastTotal, h.lastIdle, h.sampled = total, idle, true

	return math.Max(0, math.Min(1, share))
}
