// Package collector defines the Collector interface and provides
// implementations for the host metrics fed into the write engine.
package collector

import (
	"context"
	"time"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// Collector is the interface that all metric collectors must implement.
// Each collector reads one source and turns it into samples.
type Collector interface {
	// Name returns the unique identifier for this collector.
	Name() string

	// Collect reads the source once and returns its samples.
	// The context allows for cancellation and timeout control.
	Collect(ctx context.Context) ([]models.Sample, error)

	// IsAvailable checks if this collector can run on the current platform.
	// Collectors that return false will not be registered.
	IsAvailable() bool
}

// source carries what every collector stamps on its samples.
type source struct {
	host string
	now  func() time.Time
}

func newSource(host string) source {
	return source{host: host, now: time.Now}
}

func (s source) sample(measurement, instance, typ, name string, kind models.Kind, ts time.Time, values ...float64) models.Sample {
	return models.Sample{
		Measurement: measurement,
		Instance:    instance,
		Type:        typ,
		Name:        name,
		Kind:        kind,
		Values:      values,
		Time:        ts,
		Host:        s.host,
	}
}
