package collector

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/load"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// LoadCollector reports the 1, 5 and 15 minute load averages as one
// multi-value sample.
type LoadCollector struct {
	source
}

// NewLoadCollector creates a new load average collector.
func NewLoadCollector(host string) *LoadCollector {
	return &LoadCollector{source: newSource(host)}
}

// Name returns the collector identifier.
func (c *LoadCollector) Name() string { return "load" }

// Collect reads the load averages.
func (c *LoadCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return []models.Sample{
		c.sample("load", "", "load", "", models.Gauge, c.now(), avg.Load1, avg.Load5, avg.Load15),
	}, nil
}

// IsAvailable reports false on Windows, which has no load average.
func (c *LoadCollector) IsAvailable() bool { return runtime.GOOS != "windows" }
