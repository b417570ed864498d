package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// UptimeCollector collects system uptime in seconds.
type UptimeCollector struct {
	source
}

// NewUptimeCollector creates a new uptime collector.
func NewUptimeCollector(host string) *UptimeCollector {
	return &UptimeCollector{source: newSource(host)}
}

// Name returns the collector identifier.
func (c *UptimeCollector) Name() string { return "uptime" }

// Collect gathers the system uptime in seconds since boot.
func (c *UptimeCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return []models.Sample{
		c.sample("uptime", "", "uptime", "", models.Gauge, c.now(), float64(uptime)),
	}, nil
}

// IsAvailable returns true; uptime is available on all platforms.
func (c *UptimeCollector) IsAvailable() bool { return true }
