package models

// Precision is the time precision points are written with.
type Precision string

// PrecisionSeconds is the only precision the write path produces.
const PrecisionSeconds Precision = "s"

// Point is one time-series record ready for a sink. All fields share the
// measurement, tags and timestamp.
type Point struct {
	Measurement string
	Tags        map[string]string
	// Timestamp is in Unix seconds.
	Timestamp int64
	Fields    map[string]float64
}
