package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// MemoryCollector collects RAM usage in bytes.
type MemoryCollector struct {
	source
}

// NewMemoryCollector creates a new memory collector.
func NewMemoryCollector(host string) *MemoryCollector {
	return &MemoryCollector{source: newSource(host)}
}

// Name returns the collector identifier.
func (c *MemoryCollector) Name() string { return "memory" }

// Collect gathers used, free, cached and buffered bytes.
func (c *MemoryCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return c.samples(v, c.now()), nil
}

func (c *MemoryCollector) samples(v *mem.VirtualMemoryStat, ts time.Time) []models.Sample {
	return []models.Sample{
		c.sample("memory", "", "memory", "used", models.Gauge, ts, float64(v.Used)),
		c.sample("memory", "", "memory", "free", models.Gauge, ts, float64(v.Free)),
		c.sample("memory", "", "memory", "cached", models.Gauge, ts, float64(v.Cached)),
		c.sample("memory", "", "memory", "buffered", models.Gauge, ts, float64(v.Buffers)),
	}
}

// IsAvailable returns true; memory metrics are available on all platforms.
func (c *MemoryCollector) IsAvailable() bool { return true }
