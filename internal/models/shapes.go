package models

// ShapeLookup resolves the per-value labels of a multi-value metric type.
type ShapeLookup interface {
	Labels(metricType string) []string
}

// Shapes maps a metric type to the labels of its values, in value order.
type Shapes map[string][]string

// DefaultShapes holds the data source names of the collectd types the
// collectors emit.
var DefaultShapes = Shapes{
	"disk_octets": {"read", "write"},
	"disk_ops":    {"read", "write"},
	"disk_time":   {"read", "write"},
	"if_octets":   {"rx", "tx"},
	"if_packets":  {"rx", "tx"},
	"if_errors":   {"rx", "tx"},
	"if_dropped":  {"rx", "tx"},
	"load":        {"shortterm", "midterm", "longterm"},
}

// Labels returns the labels for metricType, or nil if the shape is unknown.
func (s Shapes) Labels(metricType string) []string {
	return s[metricType]
}

// Merge returns a copy of s with extra added on top.
func (s Shapes) Merge(extra map[string][]string) Shapes {
	out := make(Shapes, len(s)+len(extra))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
