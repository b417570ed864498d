// Package models defines the sample and point structures shared by the
// collectors, the write engine and the sinks.
package models

import (
	"fmt"
	"math"
	"time"
)

// Kind classifies a metric for rate derivation.
type Kind int

const (
	// Gauge values are emitted as read.
	Gauge Kind = iota
	// Counter values are monotonically increasing and emitted as rates.
	Counter
	// Derive values are like counters but may legitimately decrease.
	Derive
)

// String returns the collectd name of the kind.
func (k Kind) String() string {
	switch k {
	case Gauge:
		return "gauge"
	case Counter:
		return "counter"
	case Derive:
		return "derive"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsCumulative reports whether values of this kind are turned into rates.
func (k Kind) IsCumulative() bool {
	return k == Counter || k == Derive
}

// MaxCounter32 is the value a saturated 32-bit hardware counter reports.
const MaxCounter32 = math.MaxUint32

// Sample is a single reading of one metric at one instant, as produced by
// a collector.
type Sample struct {
	// Measurement is the originating source, e.g. "cpu" or "disk".
	Measurement string
	// Instance is the optional sub-identity (core, device). Empty means absent.
	Instance string
	// Type is the underlying metric type, e.g. "disk_octets".
	Type string
	// Name is the optional sub-metric name. See MetricName.
	Name   string
	Kind   Kind
	Values []float64
	Time   time.Time
	Host   string
	// Overflow is set when a raw reading hit MaxCounter32 and the counter
	// was reset by the producer.
	Overflow bool
}

// MetricName returns the name used for the emitted field: Name if present,
// otherwise Type.
func (s *Sample) MetricName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

// Second returns the sample time truncated to whole seconds.
func (s *Sample) Second() int64 {
	return s.Time.Unix()
}

// Validate checks the identity fields required by the write path.
func (s *Sample) Validate() error {
	if s.Measurement == "" {
		return fmt.Errorf("measurement is required")
	}
	if s.Type == "" {
		return fmt.Errorf("type is required for %s", s.Measurement)
	}
	if len(s.Values) == 0 {
		return fmt.Errorf("no values for %s:%s", s.Measurement, s.MetricName())
	}
	return nil
}

// Clone returns a deep copy of the sample, so the aggregator can sum into
// it without touching the producer's slice.
func (s *Sample) Clone() *Sample {
	c := *s
	c.Values = append([]float64(nil), s.Values...)
	return &c
}

// DetectOverflow reports whether any of the raw readings is a saturated
// 32-bit counter.
func DetectOverflow(values []float64) bool {
	for _, v := range values {
		if v == MaxCounter32 {
			return true
		}
	}
	return false
}

// Identity selects one physical counter value across polls.
type Identity struct {
	Measurement string
	Type        string
	Instance    string
	Name        string
	// Index is the position of the value within a multi-value sample.
	Index int
}

// IdentityOf returns the identity of the idx-th value of s.
func IdentityOf(s *Sample, idx int) Identity {
	return Identity{
		Measurement: s.Measurement,
		Type:        s.Type,
		Instance:    s.Instance,
		Name:        s.Name,
		Index:       idx,
	}
}

func (id Identity) String() string {
	out := id.Measurement + "/" + id.Type
	if id.Instance != "" {
		out += "-" + id.Instance
	}
	if id.Name != "" {
		out += "/" + id.Name
	}
	return fmt.Sprintf("%s[%d]", out, id.Index)
}
