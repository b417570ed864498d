package collector

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// minValidTemp is the minimum temperature (°C) considered valid.
const minValidTemp = 0.0

// maxValidTemp is the maximum temperature (°C) considered valid.
// Readings above this are likely sensor errors.
const maxValidTemp = 150.0

// SensorsCollector reports every thermal sensor as a temperature gauge.
// Linux sensor keys look like coretemp_core_0_input or k10temp_tctl_input.
type SensorsCollector struct {
	source
	logger *zap.Logger
}

// NewSensorsCollector creates a new sensors collector.
// The logger parameter is used for debug logging. Pass nil for no logging.
func NewSensorsCollector(host string, logger *zap.Logger) *SensorsCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SensorsCollector{source: newSource(host), logger: logger}
}

// Name returns the collector identifier.
func (c *SensorsCollector) Name() string { return "sensors" }

// Collect reads all temperature sensors. Missing sensor support is not an
// error: the collector then reports nothing.
func (c *SensorsCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		// gopsutil returns partial readings together with a warning error.
		c.logger.Debug("Temperature sensors not fully available", zap.Error(err))
	}
	return c.samples(temps, c.now()), nil
}

func (c *SensorsCollector) samples(temps []host.TemperatureStat, ts time.Time) []models.Sample {
	var out []models.Sample
	for _, t := range temps {
		if !isValidTemperature(t.Temperature) {
			continue
		}
		instance := strings.TrimSuffix(strings.ToLower(t.SensorKey), "_input")
		out = append(out, c.sample("sensors", instance, "temperature", "", models.Gauge, ts, t.Temperature))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// IsAvailable returns true; always registered, reports nothing without sensors.
func (c *SensorsCollector) IsAvailable() bool { return true }

// isValidTemperature returns true if the temperature is within a plausible range.
func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
