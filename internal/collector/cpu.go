package collector

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// CPUCollector reports the cumulative time every hardware thread spent in
// each state. The values are derive counters in seconds, so the written rate
// is the busy fraction of one thread.
type CPUCollector struct {
	source
}

// NewCPUCollector creates a new CPU collector.
func NewCPUCollector(host string) *CPUCollector {
	return &CPUCollector{source: newSource(host)}
}

// Name returns the collector identifier.
func (c *CPUCollector) Name() string { return "cpu" }

// Collect reads the per-thread time counters.
func (c *CPUCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	times, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	return c.samples(times, c.now()), nil
}

func (c *CPUCollector) samples(times []cpu.TimesStat, ts time.Time) []models.Sample {
	out := make([]models.Sample, 0, len(times)*8)
	for _, t := range times {
		// gopsutil names threads "cpu0", "cpu1", ...
		thread := strings.TrimPrefix(t.CPU, "cpu")
		states := []struct {
			name  string
			value float64
		}{
			{"user", t.User},
			{"nice", t.Nice},
			{"system", t.System},
			{"idle", t.Idle},
			{"wait", t.Iowait},
			{"interrupt", t.Irq},
			{"softirq", t.Softirq},
			{"steal", t.Steal},
		}
		for _, st := range states {
			out = append(out, c.sample("cpu", thread, "cpu", st.name, models.Derive, ts, st.value))
		}
	}
	return out
}

// IsAvailable returns true; CPU times are available on all platforms.
func (c *CPUCollector) IsAvailable() bool { return true }
