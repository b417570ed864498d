package sender

import (
	"fmt"
	"sort"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// Encode renders points in InfluxDB line protocol. Tags and fields are
// written in key order.
func Encode(pts []models.Point, precision models.Precision) ([]byte, error) {
	if precision != models.PrecisionSeconds {
		return nil, fmt.Errorf("unsupported precision %q", precision)
	}

	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Second)

	for _, p := range pts {
		enc.StartLine(p.Measurement)
		for _, k := range sortedKeys(p.Tags) {
			if v := p.Tags[k]; v != "" {
				enc.AddTag(k, v)
			}
		}
		for _, k := range sortedKeys(p.Fields) {
			v, ok := lineprotocol.FloatValue(p.Fields[k])
			if !ok {
				return nil, fmt.Errorf("field %s of %s is not a finite number", k, p.Measurement)
			}
			enc.AddField(k, v)
		}
		enc.EndLine(time.Unix(p.Timestamp, 0))
	}

	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("encode points: %w", err)
	}
	return enc.Bytes(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
