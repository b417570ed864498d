package collector

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// Registry manages all registered collectors and orchestrates concurrent collection.
// Collectors are registered at startup; the scheduler queries the registry
// once per interval.
type Registry struct {
	collectors []Collector
	logger     *zap.Logger
}

// NewRegistry creates a new collector registry with the given logger.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		collectors: make([]Collector, 0),
		logger:     logger,
	}
}

// Register adds a collector if it's available on the current platform.
// Unavailable collectors are logged and skipped.
func (r *Registry) Register(c Collector) {
	if c.IsAvailable() {
		r.collectors = append(r.collectors, c)
		r.logger.Info("Registered collector", zap.String("name", c.Name()))
	} else {
		r.logger.Warn("Collector not available, skipping", zap.String("name", c.Name()))
	}
}

// CollectAll runs all registered collectors concurrently and returns their
// samples concatenated in registration order. Failed collectors are logged
// but do not prevent other collectors from completing.
func (r *Registry) CollectAll(ctx context.Context) []models.Sample {
	results := make([][]models.Sample, len(r.collectors))
	var wg sync.WaitGroup

	for i, c := range r.collectors {
		wg.Add(1)
		go func(i int, col Collector) {
			defer wg.Done()
			samples, err := col.Collect(ctx)
			if err != nil {
				r.logger.Error("Collection failed",
					zap.String("collector", col.Name()),
					zap.Error(err))
				return
			}
			results[i] = samples
		}(i, c)
	}

	wg.Wait()

	var all []models.Sample
	for _, samples := range results {
		all = append(all, samples...)
	}
	return all
}

// Collectors returns a copy of all registered collectors.
func (r *Registry) Collectors() []Collector {
	result := make([]Collector, len(r.collectors))
	copy(result, r.collectors)
	return result
}

// ByName creates the collector configured under name.
func ByName(name, host string, logger *zap.Logger) (Collector, error) {
	switch name {
	case "cpu":
		return NewCPUCollector(host), nil
	case "memory":
		return NewMemoryCollector(host), nil
	case "disk":
		return NewDiskCollector(host, logger), nil
	case "interface":
		return NewInterfaceCollector(host), nil
	case "load":
		return NewLoadCollector(host), nil
	case "uptime":
		return NewUptimeCollector(host), nil
	case "df":
		return NewDFCollector(host, logger), nil
	case "sensors":
		return NewSensorsCollector(host, logger), nil
	default:
		return nil, fmt.Errorf("unknown collector %q", name)
	}
}
