package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/net"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// InterfaceCollector reports the traffic counters of every network interface
// except loopback. Some drivers still expose 32-bit counters; a reading stuck
// at the 32-bit maximum is flagged as an overflow so the writer resets the
// rate baseline instead of emitting a bogus rate.
type InterfaceCollector struct {
	source
}

// NewInterfaceCollector creates a new network interface collector.
func NewInterfaceCollector(host string) *InterfaceCollector {
	return &InterfaceCollector{source: newSource(host)}
}

// Name returns the collector identifier.
func (c *InterfaceCollector) Name() string { return "interface" }

// Collect reads the per-interface counters.
func (c *InterfaceCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	return c.samples(counters, c.now()), nil
}

func (c *InterfaceCollector) samples(counters []net.IOCountersStat, ts time.Time) []models.Sample {
	out := make([]models.Sample, 0, len(counters)*4)
	for _, n := range counters {
		if n.Name == "lo" {
			continue
		}
		out = append(out,
			c.counter(n.Name, "if_octets", ts, n.BytesRecv, n.BytesSent),
			c.counter(n.Name, "if_packets", ts, n.PacketsRecv, n.PacketsSent),
			c.counter(n.Name, "if_errors", ts, n.Errin, n.Errout),
			c.counter(n.Name, "if_dropped", ts, n.Dropin, n.Dropout),
		)
	}
	return out
}

func (c *InterfaceCollector) counter(iface, typ string, ts time.Time, rx, tx uint64) models.Sample {
	s := c.sample("interface", iface, typ, "", models.Counter, ts, float64(rx), float64(tx))
	s.Overflow = models.DetectOverflow(s.Values)
	return s
}

// IsAvailable returns true; interface counters are available on all platforms.
func (c *InterfaceCollector) IsAvailable() bool { return true }
