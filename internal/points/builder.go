// Package points shapes buffered samples into InfluxDB points.
//
// Mapping of samples to points:
//
//	measurement <- sample measurement (collectd plugin)
//	field name  <- sample name if set, otherwise the sample type
//	tag         <- the instance, keyed "cpu", "gpu" or the measurement name
//	hostname    <- sample host
//
// Consecutive fields of one bucket that share a second are written as one
// point with several fields.
package points

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rdietric/collectd-plugins/internal/buffer"
	"github.com/rdietric/collectd-plugins/internal/models"
	"github.com/rdietric/collectd-plugins/internal/rate"
)

// Stats summarises one Build call.
type Stats struct {
	// Entries is the number of samples visited.
	Entries int
	// Invalid counts NaN and infinite values that were dropped.
	Invalid int
	// Suppressed counts counter values that produced no rate (baseline or
	// same-second collision).
	Suppressed int
	// Resets counts counter identities reset because of an overflow.
	Resets int
}

// Builder converts buckets into points.
type Builder struct {
	shapes     models.ShapeLookup
	perCore    *buffer.PerCore
	storeRates bool
	logger     *zap.Logger
}

// New creates a builder. shapes resolves value labels of multi-value
// types; perCore may be nil.
func New(shapes models.ShapeLookup, perCore *buffer.PerCore, storeRates bool, logger *zap.Logger) *Builder {
	if shapes == nil {
		shapes = models.DefaultShapes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		shapes:     shapes,
		perCore:    perCore,
		storeRates: storeRates,
		logger:     logger,
	}
}

// Build converts the buckets into points. Rates are derived through tx; the
// caller decides whether to commit it. Build does not modify the buckets.
func (b *Builder) Build(tx *rate.Tx, buckets []*buffer.Bucket) ([]models.Point, Stats) {
	var (
		out   []models.Point
		stats Stats
	)

	for _, bucket := range buckets {
		avg := b.perCore.Averaged(bucket.Measurement)

		var (
			fields   map[string]float64
			lastTime int64
		)
		emit := func() {
			if len(fields) == 0 {
				return
			}
			out = append(out, models.Point{
				Measurement: bucket.Measurement,
				Tags:        Tags(bucket.Measurement, bucket.Instance, bucket.Host),
				Timestamp:   lastTime,
				Fields:      fields,
			})
		}

		for _, s := range bucket.Samples {
			stats.Entries++
			second := s.Second()

			if s.Overflow {
				stats.Resets += b.reset(tx, s)
				continue
			}

			metric := s.MetricName()
			for idx, value := range s.Values {
				if !isFinite(value) {
					stats.Invalid++
					continue
				}

				field := b.fieldName(s, metric, idx)

				if avg {
					value /= b.perCore.Divisor()
				}

				if b.storeRates && s.Kind.IsCumulative() {
					r, ok := tx.Derive(models.IdentityOf(s, idx), value, second)
					if !ok {
						stats.Suppressed++
						continue
					}
					if !isFinite(r) {
						stats.Invalid++
						continue
					}
					value = r
				}

				if fields != nil && second == lastTime {
					fields[field] = value
					continue
				}
				emit()
				fields = map[string]float64{field: value}
				lastTime = second
			}
		}
		emit()
	}

	return out, stats
}

// reset drops the rate baselines of an overflowed sample.
func (b *Builder) reset(tx *rate.Tx, s *models.Sample) int {
	if !b.storeRates || !s.Kind.IsCumulative() {
		return 0
	}
	for idx := range s.Values {
		tx.Reset(models.IdentityOf(s, idx))
	}
	b.logger.Info("Counter overflow, rate baseline reset",
		zap.String("measurement", s.Measurement),
		zap.String("instance", s.Instance),
		zap.String("metric", s.MetricName()))
	return len(s.Values)
}

// fieldName returns the field for the idx-th value. Multi-value samples get
// the value label from the type's shape as prefix.
func (b *Builder) fieldName(s *models.Sample, metric string, idx int) string {
	if len(s.Values) <= 1 {
		return metric
	}
	labels := b.shapes.Labels(s.Type)
	if idx < len(labels) {
		return labels[idx] + "_" + metric
	}
	return metric + strconv.Itoa(idx)
}

// Tags returns the tag set of a point. The instance is keyed "cpu" for
// processor measurements, "gpu" for GPU measurements and by the measurement
// name otherwise.
func Tags(measurement, instance, host string) map[string]string {
	tags := map[string]string{"hostname": host}
	if instance == "" {
		return tags
	}
	switch {
	case strings.HasSuffix(measurement, "cpu") || strings.HasSuffix(measurement, "_socket"):
		tags["cpu"] = instance
	case measurement == "nvml" || strings.HasPrefix(measurement, "gpu"):
		tags["gpu"] = instance
	default:
		tags[measurement] = instance
	}
	return tags
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
